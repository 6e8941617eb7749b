package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/types"
)

func newTestStore() *Store {
	return New(Config{CompressionThresholdBytes: 16, VerifyDigestOnRead: true, ChangeRingCapacity: 8, WatchBufferSize: 4})
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	meta, err := s.Create(ctx, "pods", "default", "web-1", []byte("hello"), map[string]string{"app": "web"}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), meta.Version)
	assert.False(t, meta.Compressed)

	got, err := s.Get(ctx, "pods", "default", "web-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload)
	assert.Equal(t, "web-1", got.Metadata.Name)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "pods", "default", "web-1", []byte("a"), nil, nil)
	require.NoError(t, err)

	_, err = s.Create(ctx, "pods", "default", "web-1", []byte("b"), nil, nil)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindConflict, apierrors.KindOf(err))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), "pods", "default", "ghost")
	require.Error(t, err)
	assert.Equal(t, apierrors.KindNotFound, apierrors.KindOf(err))
}

func TestUpdateCompareAndSwap(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	meta, err := s.Create(ctx, "pods", "default", "web-1", []byte("v1"), nil, nil)
	require.NoError(t, err)

	_, err = s.Update(ctx, "pods", "default", "web-1", []byte("v2"), nil, nil, meta.Version+1)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindVersionMismatch, apierrors.KindOf(err))

	updated, err := s.Update(ctx, "pods", "default", "web-1", []byte("v2"), nil, nil, meta.Version)
	require.NoError(t, err)
	assert.Greater(t, updated.Version, meta.Version)

	got, err := s.Get(ctx, "pods", "default", "web-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Payload)
}

func TestDeleteRemovesFromIndexes(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "pods", "ns-a", "web-1", []byte("x"), map[string]string{"app": "web"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "pods", "ns-a", "web-1", 0))

	_, err = s.Get(ctx, "pods", "ns-a", "web-1")
	require.Error(t, err)

	resources, _, err := s.List(ctx, "pods", types.Filter{Namespace: "ns-a"})
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestListFiltersByLabelSelector(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "pods", "default", "web-1", []byte("1"), map[string]string{"tier": "frontend"}, nil)
	require.NoError(t, err)
	_, err = s.Create(ctx, "pods", "default", "db-1", []byte("2"), map[string]string{"tier": "backend"}, nil)
	require.NoError(t, err)

	resources, _, err := s.List(ctx, "pods", types.Filter{
		LabelSelector: []types.LabelSelectorRequirement{
			{Key: "tier", Operator: types.SelectorIn, Values: []string{"frontend"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "web-1", resources[0].Metadata.Name)
}

func TestListPaginatesWithContinueToken(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := s.Create(ctx, "pods", "default", name, []byte(name), nil, nil)
		require.NoError(t, err)
	}

	first, cont, err := s.List(ctx, "pods", types.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, cont)

	second, cont2, err := s.List(ctx, "pods", types.Filter{Limit: 2, Continue: cont})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Empty(t, cont2)

	assert.NotEqual(t, first[0].Metadata.Name, second[0].Metadata.Name)
}

func TestListPaginationExcludesResourcesCreatedAfterListStarted(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		_, err := s.Create(ctx, "pods", "default", name, []byte(name), nil, nil)
		require.NoError(t, err)
	}

	first, cont, err := s.List(ctx, "pods", types.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotEmpty(t, cont)

	// "z" sorts after both existing keys and after "a" (the last key
	// returned), so without a version filter it would leak into page two.
	_, err = s.Create(ctx, "pods", "default", "z", []byte("z"), nil, nil)
	require.NoError(t, err)

	second, cont2, err := s.List(ctx, "pods", types.Filter{Limit: 10, Continue: cont})
	require.NoError(t, err)
	assert.Empty(t, cont2)
	for _, res := range second {
		assert.NotEqual(t, "z", res.Metadata.Name)
	}
}

func TestCompressionIsTransparentAboveThreshold(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	large := []byte(strings.Repeat("x", 256))
	meta, err := s.Create(ctx, "configmaps", "default", "big", large, nil, nil)
	require.NoError(t, err)
	assert.True(t, meta.Compressed)

	got, err := s.Get(ctx, "configmaps", "default", "big")
	require.NoError(t, err)
	assert.Equal(t, large, got.Payload)
}

func TestWatchReplaysBacklogThenLiveEvents(t *testing.T) {
	s := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meta, err := s.Create(ctx, "pods", "default", "web-1", []byte("1"), nil, nil)
	require.NoError(t, err)

	handle, err := s.Watch(ctx, "pods", "", 0)
	require.NoError(t, err)

	ev := <-handle.Events
	assert.Equal(t, meta.Version, ev.Version)
	assert.Equal(t, types.OpCreated, ev.Op)

	_, err = s.Update(ctx, "pods", "default", "web-1", []byte("2"), nil, nil, meta.Version)
	require.NoError(t, err)

	ev = <-handle.Events
	assert.Equal(t, types.OpUpdated, ev.Op)
}

func TestWatchExpiresOnEvictedResumePoint(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		_, err := s.Create(ctx, "pods", "default", string(rune('a'+i)), []byte("x"), nil, nil)
		require.NoError(t, err)
	}

	_, err := s.Watch(ctx, "pods", "", 1)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindExpired, apierrors.KindOf(err))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "pods", "default", "web-1", []byte("hello"), map[string]string{"app": "web"}, nil)
	require.NoError(t, err)

	blob, err := s.Snapshot()
	require.NoError(t, err)

	restored := New(Config{})
	require.NoError(t, restored.Restore(blob))

	got, err := restored.Get(ctx, "pods", "default", "web-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload)
	assert.Equal(t, s.ClusterVersion(), restored.ClusterVersion())
}

func TestSnapshotRestoreRejectsCorruptSection(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "pods", "default", "web-1", []byte("hello"), nil, nil)
	require.NoError(t, err)

	blob, err := s.Snapshot()
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xFF

	restored := New(Config{})
	err = restored.Restore(blob)
	// Either the msgpack decode itself fails or the digest check catches it;
	// both are acceptable corruption outcomes.
	if err == nil {
		t.Fatal("expected Restore to reject a corrupted snapshot")
	}
}

func TestFieldSelectorRequiresRegisteredExtractor(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Create(ctx, "pods", "default", "web-1", []byte(`{"phase":"Running"}`), nil, nil)
	require.NoError(t, err)

	resources, _, err := s.List(ctx, "pods", types.Filter{FieldSelector: map[string]string{"phase": "Running"}})
	require.NoError(t, err)
	assert.Empty(t, resources, "unregistered field selector should exclude every resource")

	s.RegisterFieldSelector("pods", "phase", func(payload []byte) string {
		if strings.Contains(string(payload), `"phase":"Running"`) {
			return "Running"
		}
		return ""
	})

	resources, _, err = s.List(ctx, "pods", types.Filter{FieldSelector: map[string]string{"phase": "Running"}})
	require.NoError(t, err)
	require.Len(t, resources, 1)
}

func TestCreateRejectsOnceMaxObjectsPerKindReached(t *testing.T) {
	s := New(Config{MaxObjectsPerKind: 1})
	ctx := context.Background()

	_, err := s.Create(ctx, "pods", "default", "web-1", []byte("a"), nil, nil)
	require.NoError(t, err)

	_, err = s.Create(ctx, "pods", "default", "web-2", []byte("b"), nil, nil)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindOverloaded, apierrors.KindOf(err))
}

func TestCreateRejectsOverMemoryLimitBytes(t *testing.T) {
	s := New(Config{MemoryLimitBytes: 10})
	ctx := context.Background()

	_, err := s.Create(ctx, "pods", "default", "web-1", []byte("0123456789"), nil, nil)
	require.NoError(t, err)

	_, err = s.Create(ctx, "pods", "default", "web-2", []byte("x"), nil, nil)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindTooLarge, apierrors.KindOf(err))
}

func TestUpdateRejectsOverMemoryLimitBytes(t *testing.T) {
	s := New(Config{MemoryLimitBytes: 10})
	ctx := context.Background()

	meta, err := s.Create(ctx, "pods", "default", "web-1", []byte("short"), nil, nil)
	require.NoError(t, err)

	_, err = s.Update(ctx, "pods", "default", "web-1", []byte("a much longer payload than before"), nil, nil, meta.Version)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindTooLarge, apierrors.KindOf(err))
}

func TestDeleteReclaimsMemoryBudget(t *testing.T) {
	s := New(Config{MemoryLimitBytes: 10})
	ctx := context.Background()

	meta, err := s.Create(ctx, "pods", "default", "web-1", []byte("0123456789"), nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "pods", "default", "web-1", meta.Version))

	_, err = s.Create(ctx, "pods", "default", "web-2", []byte("0123456789"), nil, nil)
	require.NoError(t, err)
}
