package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/compress"
	"github.com/cuemby/teeplane/pkg/digest"
	"github.com/cuemby/teeplane/pkg/log"
	"github.com/cuemby/teeplane/pkg/metrics"
	"github.com/cuemby/teeplane/pkg/types"
)

// Config controls the store's compression, integrity, and change-retention
// behavior. Zero values fall back to sane defaults in New.
type Config struct {
	// CompressionThresholdBytes is the payload size above which Create and
	// Update transparently compress it with pkg/compress. 0 compresses
	// every non-empty payload; a negative value disables compression.
	CompressionThresholdBytes int

	// VerifyDigestOnRead re-checks the stored content digest against the
	// decompressed payload on every Get, trading read latency for
	// corruption detection.
	VerifyDigestOnRead bool

	// ChangeRingCapacity bounds how many change events are retained for
	// watch replay before the oldest are evicted.
	ChangeRingCapacity int

	// WatchBufferSize bounds the per-subscriber channel buffer; a
	// subscriber that can't keep up is disconnected with Expired.
	WatchBufferSize int

	// MaxObjectsPerKind bounds how many resources a single kind table may
	// hold. 0 means unbounded. Create beyond the bound fails Overloaded.
	MaxObjectsPerKind int

	// MemoryLimitBytes bounds the sum of uncompressed payload sizes per
	// kind table. 0 means unbounded. Create/Update beyond the bound
	// fails TooLarge.
	MemoryLimitBytes int64
}

func (c Config) withDefaults() Config {
	if c.ChangeRingCapacity <= 0 {
		c.ChangeRingCapacity = 4096
	}
	if c.WatchBufferSize <= 0 {
		c.WatchBufferSize = 256
	}
	return c
}

// Store is the in-memory, versioned, indexed resource store: the ground
// truth for the placement engine and the reconciler.
type Store struct {
	cfg Config

	mu     sync.RWMutex // guards tables and fieldSelectors' existence, not their contents
	tables map[string]*kindTable

	version atomic.Uint64
	ring    *changeRing

	fieldSelectors *fieldSelectorRegistry
}

// New constructs an empty store.
func New(cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		cfg:            cfg,
		tables:         make(map[string]*kindTable),
		ring:           newChangeRing(cfg.ChangeRingCapacity),
		fieldSelectors: newFieldSelectorRegistry(),
	}
}

func (s *Store) nextVersion() uint64 {
	return s.version.Add(1)
}

func (s *Store) table(kind string) *kindTable {
	s.mu.RLock()
	t, ok := s.tables[kind]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.tables[kind]; ok {
		return t
	}
	t = newKindTable()
	s.tables[kind] = t
	return t
}

// RegisterFieldSelector enables List callers to filter kind by field
// using extractor to pull the field's value out of a resource's payload.
func (s *Store) RegisterFieldSelector(kind, field string, extractor FieldExtractor) {
	s.fieldSelectors.register(kind, field, extractor)
}

// Create inserts a new resource. It fails with apierrors.KindConflict if
// (kind, namespace, name) already exists.
func (s *Store) Create(ctx context.Context, kind, namespace, name string, payload []byte, labels, annotations map[string]string) (*types.Metadata, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreVerbDuration, "create", kind)

	t := s.table(kind)
	key := tableKey(namespace, name)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byKey[key]; exists {
		metrics.StoreVerbErrorsTotal.WithLabelValues("create", string(apierrors.KindConflict)).Inc()
		return nil, apierrors.Conflict("resource already exists: " + kind + "/" + key)
	}

	if s.cfg.MaxObjectsPerKind > 0 && len(t.byKey) >= s.cfg.MaxObjectsPerKind {
		metrics.StoreVerbErrorsTotal.WithLabelValues("create", string(apierrors.KindOverloaded)).Inc()
		return nil, apierrors.Overloaded("kind " + kind + " has reached its max_objects_per_kind limit")
	}
	if s.cfg.MemoryLimitBytes > 0 && t.totalBytes+int64(len(payload)) > s.cfg.MemoryLimitBytes {
		metrics.StoreVerbErrorsTotal.WithLabelValues("create", string(apierrors.KindTooLarge)).Inc()
		return nil, apierrors.TooLarge("kind " + kind + " has reached its memory_limit_bytes limit")
	}

	now := time.Now().UTC()
	d := digest.Of(payload)
	encoded, compressed := compress.Encode(payload, s.cfg.CompressionThresholdBytes)
	version := s.nextVersion()

	meta := types.Metadata{
		Kind:        types.Kind(kind),
		Namespace:   namespace,
		Name:        name,
		Labels:      cloneMap(labels),
		Annotations: cloneMap(annotations),
		Size:        int64(len(payload)),
		Digest:      string(d),
		Compressed:  compressed,
		Version:     version,
		CreatedAt:   now,
		ModifiedAt:  now,
	}

	t.byKey[key] = &record{meta: meta, payload: encoded}
	t.indexAdd(key, namespace, meta.Labels)
	t.totalBytes += meta.Size

	s.ring.push(types.ChangeEvent{
		Version:    version,
		Kind:       types.Kind(kind),
		Namespace:  namespace,
		Name:       name,
		Op:         types.OpCreated,
		NewPayload: payload,
	})

	metrics.StoreResourcesTotal.WithLabelValues(kind).Inc()
	logger := log.WithResourceKey(kind, namespace, name)
	logger.Debug().Uint64("version", version).Msg("resource created")

	result := meta
	return &result, nil
}

// Get returns a resource, decompressing and (if configured) verifying its
// payload integrity.
func (s *Store) Get(ctx context.Context, kind, namespace, name string) (*types.Resource, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreVerbDuration, "get", kind)

	t := s.table(kind)
	key := tableKey(namespace, name)

	t.mu.RLock()
	rec, exists := t.byKey[key]
	var recCopy record
	if exists {
		recCopy = *rec
	}
	t.mu.RUnlock()

	if !exists {
		metrics.StoreVerbErrorsTotal.WithLabelValues("get", string(apierrors.KindNotFound)).Inc()
		return nil, apierrors.NotFound("resource not found: " + kind + "/" + key)
	}

	payload, err := compress.Decode(recCopy.payload, recCopy.meta.Compressed)
	if err != nil {
		metrics.StoreVerbErrorsTotal.WithLabelValues("get", string(apierrors.KindIntegrityError)).Inc()
		return nil, apierrors.Wrap(apierrors.KindIntegrityError, "failed to decode stored payload", err)
	}

	if s.cfg.VerifyDigestOnRead && !digest.Verify(payload, digest.Digest(recCopy.meta.Digest)) {
		metrics.StoreVerbErrorsTotal.WithLabelValues("get", string(apierrors.KindIntegrityError)).Inc()
		return nil, apierrors.IntegrityError("stored content digest does not match payload: " + kind + "/" + key)
	}

	return &types.Resource{Metadata: recCopy.meta, Payload: payload}, nil
}

// List returns resources of kind matching filter, in ascending key order,
// along with a continue token when more results remain.
func (s *Store) List(ctx context.Context, kind string, filter types.Filter) ([]*types.Resource, string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreVerbDuration, "list", kind)

	t := s.table(kind)

	startAfter := ""
	listVersion := s.version.Load()
	if filter.Continue != "" {
		token, err := decodeContinueToken(filter.Continue)
		if err != nil {
			metrics.StoreVerbErrorsTotal.WithLabelValues("list", string(apierrors.KindInternal)).Inc()
			return nil, "", apierrors.Wrap(apierrors.KindInternal, "malformed continue token", err)
		}
		if token.ListVersion < s.ring.evictedThroughSnapshot() {
			metrics.StoreVerbErrorsTotal.WithLabelValues("list", string(apierrors.KindExpired)).Inc()
			return nil, "", apierrors.Expired("list continuation refers to a compacted version; restart the list")
		}
		listVersion = token.ListVersion
		startAfter = token.LastKey
	}

	t.mu.RLock()
	keys := t.candidateKeys(filter.Namespace)
	resources := make([]*types.Resource, 0, len(keys))
	var lastKey string
	truncated := false

	for _, key := range keys {
		if startAfter != "" && key <= startAfter {
			continue
		}
		rec := t.byKey[key]
		if rec.meta.Version > listVersion {
			continue
		}
		if !matchesLabels(rec.meta.Labels, filter.LabelSelector) {
			continue
		}
		payload, err := compress.Decode(rec.payload, rec.meta.Compressed)
		if err != nil {
			continue
		}
		if !s.fieldSelectors.matches(kind, filter.FieldSelector, payload) {
			continue
		}

		if filter.Limit > 0 && len(resources) >= filter.Limit {
			truncated = true
			break
		}

		resources = append(resources, &types.Resource{Metadata: rec.meta, Payload: payload})
		lastKey = key
	}
	t.mu.RUnlock()

	if !truncated {
		return resources, "", nil
	}

	cont, err := encodeContinueToken(types.ContinueToken{ListVersion: listVersion, LastKey: lastKey})
	if err != nil {
		return resources, "", apierrors.Internalf("failed to encode continue token: %v", err)
	}
	return resources, cont, nil
}

// Update performs a compare-and-swap update of an existing resource.
// expectedVersion of 0 skips the version check.
func (s *Store) Update(ctx context.Context, kind, namespace, name string, payload []byte, labels, annotations map[string]string, expectedVersion uint64) (*types.Metadata, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreVerbDuration, "update", kind)

	t := s.table(kind)
	key := tableKey(namespace, name)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.byKey[key]
	if !exists {
		metrics.StoreVerbErrorsTotal.WithLabelValues("update", string(apierrors.KindNotFound)).Inc()
		return nil, apierrors.NotFound("resource not found: " + kind + "/" + key)
	}
	if expectedVersion != 0 && rec.meta.Version != expectedVersion {
		metrics.StoreVerbErrorsTotal.WithLabelValues("update", string(apierrors.KindVersionMismatch)).Inc()
		return nil, apierrors.VersionMismatch("expected version does not match current resource version")
	}

	oldPayload, err := compress.Decode(rec.payload, rec.meta.Compressed)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindIntegrityError, "failed to decode existing payload", err)
	}

	if s.cfg.MemoryLimitBytes > 0 && t.totalBytes-rec.meta.Size+int64(len(payload)) > s.cfg.MemoryLimitBytes {
		metrics.StoreVerbErrorsTotal.WithLabelValues("update", string(apierrors.KindTooLarge)).Inc()
		return nil, apierrors.TooLarge("kind " + kind + " has reached its memory_limit_bytes limit")
	}

	t.indexRemove(key, namespace, rec.meta.Labels)
	t.totalBytes -= rec.meta.Size

	now := time.Now().UTC()
	d := digest.Of(payload)
	encoded, compressed := compress.Encode(payload, s.cfg.CompressionThresholdBytes)
	version := s.nextVersion()

	meta := types.Metadata{
		Kind:        types.Kind(kind),
		Namespace:   namespace,
		Name:        name,
		Labels:      cloneMap(labels),
		Annotations: cloneMap(annotations),
		Size:        int64(len(payload)),
		Digest:      string(d),
		Compressed:  compressed,
		Version:     version,
		CreatedAt:   rec.meta.CreatedAt,
		ModifiedAt:  now,
	}

	t.byKey[key] = &record{meta: meta, payload: encoded}
	t.indexAdd(key, namespace, meta.Labels)
	t.totalBytes += meta.Size

	s.ring.push(types.ChangeEvent{
		Version:    version,
		Kind:       types.Kind(kind),
		Namespace:  namespace,
		Name:       name,
		Op:         types.OpUpdated,
		OldPayload: oldPayload,
		NewPayload: payload,
	})

	result := meta
	return &result, nil
}

// Delete removes a resource. expectedVersion of 0 skips the version check.
func (s *Store) Delete(ctx context.Context, kind, namespace, name string, expectedVersion uint64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreVerbDuration, "delete", kind)

	t := s.table(kind)
	key := tableKey(namespace, name)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.byKey[key]
	if !exists {
		metrics.StoreVerbErrorsTotal.WithLabelValues("delete", string(apierrors.KindNotFound)).Inc()
		return apierrors.NotFound("resource not found: " + kind + "/" + key)
	}
	if expectedVersion != 0 && rec.meta.Version != expectedVersion {
		metrics.StoreVerbErrorsTotal.WithLabelValues("delete", string(apierrors.KindVersionMismatch)).Inc()
		return apierrors.VersionMismatch("expected version does not match current resource version")
	}

	oldPayload, err := compress.Decode(rec.payload, rec.meta.Compressed)
	if err != nil {
		oldPayload = nil
	}

	delete(t.byKey, key)
	t.indexRemove(key, namespace, rec.meta.Labels)
	t.totalBytes -= rec.meta.Size

	version := s.nextVersion()
	s.ring.push(types.ChangeEvent{
		Version:    version,
		Kind:       types.Kind(kind),
		Namespace:  namespace,
		Name:       name,
		Op:         types.OpDeleted,
		OldPayload: oldPayload,
	})

	metrics.StoreResourcesTotal.WithLabelValues(kind).Dec()
	return nil
}

// Watch streams change events for kind (all namespaces if namespace is
// empty), starting after since (0 replays every event still held in the
// change ring before live delivery).
func (s *Store) Watch(ctx context.Context, kind, namespace string, since uint64) (*WatchHandle, error) {
	handle, err := s.ring.subscribe(kind, namespace, since, s.cfg.WatchBufferSize)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		handle.Cancel()
	}()
	return handle, nil
}

// ClusterVersion implements metrics.StoreSnapshot.
func (s *Store) ClusterVersion() uint64 { return s.version.Load() }

// ResourceCountsByKind implements metrics.StoreSnapshot.
func (s *Store) ResourceCountsByKind() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.tables))
	for kind, t := range s.tables {
		t.mu.RLock()
		counts[kind] = len(t.byKey)
		t.mu.RUnlock()
	}
	return counts
}

// ChangeRingSize implements metrics.StoreSnapshot.
func (s *Store) ChangeRingSize() int { return s.ring.size() }

// WatchSubscriberCount implements metrics.StoreSnapshot.
func (s *Store) WatchSubscriberCount() int { return s.ring.subscriberCount() }

func (r *changeRing) evictedThroughSnapshot() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictedThrough
}

func matchesLabels(labels map[string]string, selector []types.LabelSelectorRequirement) bool {
	for _, req := range selector {
		if !req.Matches(labels) {
			return false
		}
	}
	return true
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func encodeContinueToken(t types.ContinueToken) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeContinueToken(s string) (types.ContinueToken, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return types.ContinueToken{}, err
	}
	var t types.ContinueToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return types.ContinueToken{}, err
	}
	return t, nil
}
