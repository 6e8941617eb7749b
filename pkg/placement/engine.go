package placement

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/log"
	"github.com/cuemby/teeplane/pkg/metrics"
	"github.com/cuemby/teeplane/pkg/types"
)

// Config controls the engine's cache refresh cadence, decision cache
// sizing, and scoring behavior.
type Config struct {
	NodeCacheRefreshInterval time.Duration
	DecisionCacheTTL         time.Duration
	DecisionCacheCapacity    int

	// MaxQueueSize is carried through from configuration; the engine does
	// not read it and does not bound how many Place calls run at once.
	MaxQueueSize int

	// WorkerThreads sizes any caller-side worker pool draining placement
	// requests into Place; the engine itself is safe for concurrent Place
	// calls regardless of this value.
	WorkerThreads int

	// TargetUtilization biases resourceBalanceScore toward nodes that land
	// near this fractional utilization after placement, rather than
	// toward maximum leftover headroom.
	TargetUtilization float64

	// IdealScore stops scoring remaining nodes once a candidate reaches it;
	// 100 (the scoring function's max) disables early termination.
	IdealScore float64

	// FeasibilityFastPath, when true, accepts the first feasible node
	// found (the node cache is sorted by cached Score descending) without
	// running the full weighted scoring pass, trading placement quality
	// for latency.
	FeasibilityFastPath bool
}

func (c Config) withDefaults() Config {
	if c.TargetUtilization <= 0 {
		c.TargetUtilization = 0.7
	}
	if c.IdealScore <= 0 {
		c.IdealScore = 100
	}
	return c
}

// Engine is the placement engine: node cache, feasibility gate, weighted
// scoring, and decision cache.
type Engine struct {
	cfg       Config
	nodeCache *NodeCache
	decisions *decisionCache
}

// New constructs a placement engine over source.
func New(source NodeSource, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		nodeCache: NewNodeCache(source, cfg.NodeCacheRefreshInterval),
		decisions: newDecisionCache(cfg.DecisionCacheTTL, cfg.DecisionCacheCapacity),
	}
}

// Start begins the node cache's background refresh loop.
func (e *Engine) Start(ctx context.Context) { e.nodeCache.Start(ctx) }

// Stop halts the node cache's background refresh loop.
func (e *Engine) Stop() { e.nodeCache.Stop() }

// NodeCacheSize implements metrics.PlacementSnapshot.
func (e *Engine) NodeCacheSize() int { return e.nodeCache.Size() }

// UpdateNode applies an incremental node-cache update, e.g. from a store
// watch event, bypassing the periodic refresh.
func (e *Engine) UpdateNode(entry types.NodeCacheEntry) { e.nodeCache.UpdateNode(entry) }

// RemoveNode drops a node from the cache immediately.
func (e *Engine) RemoveNode(name string) { e.nodeCache.RemoveNode(name) }

// Invalidate purges every cached decision. Call this when the cluster's
// shape has changed enough (e.g. a bulk node removal) that cached decisions
// can no longer be trusted until the next Place recomputes them.
func (e *Engine) Invalidate() { e.decisions.purge() }

// Place selects the best node for work, or returns apierrors.Unschedulable
// with a diagnostic reason if no node is feasible.
func (e *Engine) Place(ctx context.Context, work types.PendingWorkUnit) (Decision, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementDecisionDuration)

	sig := signature(work)
	compute := func() (Decision, error) { return e.selectNode(work) }

	decision, hit, err := e.decisions.getOrCompute(sig, compute)
	if err == nil && hit && !e.cachedDecisionStillFeasible(decision, work) {
		// The cached binding's target node has since been removed from the
		// node cache or no longer fits; don't honor a stale decision, fall
		// through to a fresh scoring pass.
		e.decisions.invalidate(sig)
		decision, _, err = e.decisions.getOrCompute(sig, compute)
	}
	if err != nil {
		metrics.PlacementDecisionsTotal.WithLabelValues("unschedulable").Inc()
		return Decision{}, err
	}

	metrics.PlacementDecisionsTotal.WithLabelValues("placed").Inc()
	if reserved, ok := optimisticReserve(e.nodeCache, decision.NodeName, work); ok {
		e.nodeCache.UpdateNode(reserved)
	}
	return decision, nil
}

// cachedDecisionStillFeasible re-checks a cached binding's target node
// against the current node cache snapshot, per the requirement that a cache
// hit only be honored while the target node still satisfies feasibility.
func (e *Engine) cachedDecisionStillFeasible(decision Decision, work types.PendingWorkUnit) bool {
	for _, node := range e.nodeCache.Snapshot() {
		if node.Name != decision.NodeName {
			continue
		}
		ok, _ := feasible(node, work)
		return ok
	}
	return false
}

func (e *Engine) selectNode(work types.PendingWorkUnit) (Decision, error) {
	cluster := e.nodeCache.Snapshot()
	if len(cluster) == 0 {
		return Decision{}, apierrors.Unschedulable("no nodes are registered in the placement node cache")
	}

	var reasons []string
	var best *types.NodeCacheEntry
	var bestScore float64

	for i := range cluster {
		node := cluster[i]
		ok, reason := feasible(node, work)
		if !ok {
			reasons = append(reasons, node.Name+": "+reason)
			continue
		}

		if e.cfg.FeasibilityFastPath {
			n := node
			return Decision{NodeName: n.Name, Score: n.Score}, nil
		}

		s := score(node, work, cluster, e.cfg.TargetUtilization)
		if best == nil || s > bestScore || (s == bestScore && node.Name < best.Name) {
			n := node
			best = &n
			bestScore = s
		}
		if bestScore >= e.cfg.IdealScore {
			break
		}
	}

	if best == nil {
		reason := "no feasible node found"
		if len(reasons) > 0 {
			reason += ": " + strings.Join(reasons, "; ")
		}
		logger := log.WithKind("placement")
		logger.Debug().Str("work", work.Name).Msg(reason)
		return Decision{}, apierrors.Unschedulable(reason)
	}

	return Decision{NodeName: best.Name, Score: bestScore}, nil
}

// optimisticReserve returns an updated NodeCacheEntry for node with work's
// request subtracted from Available and PodCount incremented, so a burst of
// placements against a stale node cache doesn't all pile onto the same
// node before the next refresh reconciles against real usage. ok is false
// if nodeName is no longer in the cache, in which case the caller must not
// reinsert a phantom zero-capacity entry for it.
func optimisticReserve(cache *NodeCache, nodeName string, work types.PendingWorkUnit) (entry types.NodeCacheEntry, ok bool) {
	for _, n := range cache.Snapshot() {
		if n.Name != nodeName {
			continue
		}
		n.Available.CPUMillicores -= work.Request.CPUMillicores
		n.Available.MemoryBytes -= work.Request.MemoryBytes
		n.Available.StorageBytes -= work.Request.StorageBytes
		n.PodCount++
		n.UpdatedAt = time.Now().UTC()
		return n, true
	}
	return types.NodeCacheEntry{}, false
}
