// Package types holds the data model shared by the store, the placement
// engine, and the reconciler: resources, their metadata, change events,
// node-cache projections, pending work units, and the small value types
// (labels, selectors, affinity, tolerations) those depend on.
package types

import "time"

// Kind names a category of resource. Hot kinds (nodes, pods, services,
// endpoints), warm kinds (configmaps, secrets, roles/bindings) and the
// cold kind (events) have constants here; the store accepts any kind name,
// including custom ones, and creates its table on first use.
type Kind string

const (
	KindNode      Kind = "nodes"
	KindPod       Kind = "pods"
	KindService   Kind = "services"
	KindEndpoint  Kind = "endpoints"
	KindConfigMap Kind = "configmaps"
	KindSecret    Kind = "secrets"
	KindRole      Kind = "roles"
	KindBinding   Kind = "bindings"
	KindEvent     Kind = "events"
)

// Key identifies a resource uniquely within the store: (kind, namespace,
// name). Namespace is empty for cluster-scoped resources (e.g. nodes).
type Key struct {
	Kind      Kind
	Namespace string
	Name      string
}

func (k Key) String() string {
	if k.Namespace == "" {
		return string(k.Kind) + "/" + k.Name
	}
	return string(k.Kind) + "/" + k.Namespace + "/" + k.Name
}

// Metadata is the caller-visible envelope around a resource's opaque
// payload.
type Metadata struct {
	Kind        Kind
	Namespace   string
	Name        string
	Labels      map[string]string
	Annotations map[string]string
	Size        int64
	Digest      string
	Compressed  bool
	Version     uint64
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// Resource is a single stored object: its metadata plus its opaque payload.
// The payload is always returned uncompressed regardless of how it is
// stored internally.
type Resource struct {
	Metadata Metadata
	Payload  []byte
}

func (r *Resource) Key() Key {
	return Key{Kind: r.Metadata.Kind, Namespace: r.Metadata.Namespace, Name: r.Metadata.Name}
}

// Op identifies the kind of mutation a ChangeEvent describes.
type Op uint8

const (
	OpCreated Op = iota + 1
	OpUpdated
	OpDeleted
)

func (o Op) String() string {
	switch o {
	case OpCreated:
		return "Created"
	case OpUpdated:
		return "Updated"
	case OpDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// ChangeEvent is the envelope appended to the store's change ring on every
// successful mutation (spec §4.A, §6).
type ChangeEvent struct {
	Version    uint64
	Kind       Kind
	Namespace  string
	Name       string
	Op         Op
	OldPayload []byte
	NewPayload []byte
}

func (c ChangeEvent) Key() Key {
	return Key{Kind: c.Kind, Namespace: c.Namespace, Name: c.Name}
}

// SelectorOperator is one of the label-selector operators from §4.A.
type SelectorOperator string

const (
	SelectorIn           SelectorOperator = "In"
	SelectorNotIn        SelectorOperator = "NotIn"
	SelectorExists       SelectorOperator = "Exists"
	SelectorDoesNotExist SelectorOperator = "DoesNotExist"
)

// LabelSelectorRequirement is a single `key op values` clause; a Filter's
// label selector is the conjunction of these.
type LabelSelectorRequirement struct {
	Key      string
	Operator SelectorOperator
	Values   []string
}

// Matches reports whether labels satisfies this requirement.
func (r LabelSelectorRequirement) Matches(labels map[string]string) bool {
	v, ok := labels[r.Key]
	switch r.Operator {
	case SelectorExists:
		return ok
	case SelectorDoesNotExist:
		return !ok
	case SelectorIn:
		if !ok {
			return false
		}
		for _, want := range r.Values {
			if v == want {
				return true
			}
		}
		return false
	case SelectorNotIn:
		if !ok {
			return true
		}
		for _, want := range r.Values {
			if v == want {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Filter is the list/watch query shape from spec §4.A.
type Filter struct {
	Namespace     string
	LabelSelector []LabelSelectorRequirement
	FieldSelector map[string]string
	Limit         int
	Continue      string
}

// ContinueToken is the opaque pagination cursor encoded into Filter.Continue.
type ContinueToken struct {
	ListVersion uint64
	LastKey     string
}

// ResourceRequest is the multi-dimensional resource ask of a pending work
// unit (spec §3).
type ResourceRequest struct {
	CPUMillicores int64
	MemoryBytes   int64
	StorageBytes  int64
	Extended      map[string]int64
}

// TaintEffect controls whether a taint merely repels or also evicts.
type TaintEffect string

const (
	EffectNoSchedule       TaintEffect = "NoSchedule"
	EffectPreferNoSchedule TaintEffect = "PreferNoSchedule"
	EffectNoExecute        TaintEffect = "NoExecute"
)

// Taint is carried by a node; a pending work unit must tolerate every
// NoSchedule/NoExecute taint on a node to be feasible there.
type Taint struct {
	Key    string
	Value  string
	Effect TaintEffect
}

// TolerationOperator mirrors the comparison used to match a Toleration
// against a node Taint.
type TolerationOperator string

const (
	TolerationEqual  TolerationOperator = "Equal"
	TolerationExists TolerationOperator = "Exists"
)

// Toleration lets a pending work unit tolerate a matching Taint.
type Toleration struct {
	Key      string
	Operator TolerationOperator
	Value    string
	Effect   TaintEffect // empty matches any effect
}

// Tolerates reports whether t covers taint.
func (t Toleration) Tolerates(taint Taint) bool {
	if t.Effect != "" && t.Effect != taint.Effect {
		return false
	}
	if t.Key != "" && t.Key != taint.Key {
		return false
	}
	switch t.Operator {
	case TolerationExists:
		return true
	case TolerationEqual, "":
		return t.Value == taint.Value
	default:
		return false
	}
}

// NodeSelectorTerm is a conjunction of label-selector requirements used for
// required node affinity.
type NodeSelectorTerm struct {
	MatchExpressions []LabelSelectorRequirement
}

// Matches reports whether every requirement in the term matches labels.
func (t NodeSelectorTerm) Matches(labels map[string]string) bool {
	for _, req := range t.MatchExpressions {
		if !req.Matches(labels) {
			return false
		}
	}
	return true
}

// PreferredSchedulingTerm is a weighted, non-binding node affinity term.
type PreferredSchedulingTerm struct {
	Weight int // 1-100
	Term   NodeSelectorTerm
}

// NodeAffinity groups required (hard) and preferred (soft) node selector
// terms.
type NodeAffinity struct {
	Required  []NodeSelectorTerm // OR'd: any one matching term satisfies the requirement
	Preferred []PreferredSchedulingTerm
}

// Matches reports whether labels satisfy the required side of the
// affinity. An affinity with no Required terms always matches.
func (a *NodeAffinity) Matches(labels map[string]string) bool {
	if a == nil || len(a.Required) == 0 {
		return true
	}
	for _, term := range a.Required {
		if term.Matches(labels) {
			return true
		}
	}
	return false
}

// PodAffinityTerm expresses (anti-)affinity toward pods matching
// LabelSelector, evaluated over nodes sharing TopologyKey.
type PodAffinityTerm struct {
	TopologyKey   string
	LabelSelector []LabelSelectorRequirement
	Weight        int // for the weighted preferred form
}

// PendingWorkUnit is one item submitted to placement (spec §3).
type PendingWorkUnit struct {
	ID           string
	Name         string
	Namespace    string
	Request      ResourceRequest
	Affinity     *NodeAffinity
	PodAffinity  []PodAffinityTerm
	AntiAffinity []PodAffinityTerm
	Tolerations  []Toleration
	Priority     int
	CreatedAt    time.Time
	Deadline     *time.Time
}

// NodeCondition flags the degraded states a node can report (spec §3).
type NodeCondition struct {
	Ready              bool
	MemoryPressure     bool
	DiskPressure       bool
	PIDPressure        bool
	NetworkUnavailable bool
}

// NodeCacheEntry is placement's derived, periodically-refreshed projection
// of a node resource (spec §3).
type NodeCacheEntry struct {
	Name      string
	Available ResourceRequest
	Capacity  ResourceRequest
	Labels    map[string]string
	Taints    []Taint
	PodCount  int
	Condition NodeCondition
	Score     float64
	UpdatedAt time.Time
}

// ReconciliationEventKind distinguishes why a reconciliation record was
// enqueued.
type ReconciliationEventKind string

const (
	ReconcileOnChange ReconciliationEventKind = "change"
	ReconcileOnSync   ReconciliationEventKind = "sync"
	ReconcileOnRetry  ReconciliationEventKind = "retry"
)

// Priority orders the reconciler's FIFO queues (spec §4.C).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ReconciliationRecord is the derived unit of work the reconciler tracks
// (spec §3).
type ReconciliationRecord struct {
	Kind            Kind
	ResourceKey     Key
	EventKind       ReconciliationEventKind
	PayloadSnapshot []byte
	Priority        Priority
	EnqueuedAt      time.Time
	RetryCount      int
}
