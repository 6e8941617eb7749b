package placement

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cuemby/teeplane/pkg/log"
	"github.com/cuemby/teeplane/pkg/metrics"
	"github.com/cuemby/teeplane/pkg/types"
)

// NodeSource lists the current set of nodes the node cache refreshes from.
// cmd/teeplaned supplies a store-backed implementation; tests use a fake.
type NodeSource interface {
	ListNodes(ctx context.Context) ([]types.NodeCacheEntry, error)
}

// nodeSnapshot is an immutable, sorted view of the node cache. Refreshes and
// incremental updates both build a new snapshot and swap it in atomically;
// readers never see a partially updated set of nodes.
type nodeSnapshot struct {
	entries []types.NodeCacheEntry // sorted by Score descending, then Name ascending
	byName  map[string]int         // name -> index into entries
}

func newNodeSnapshot(entries []types.NodeCacheEntry) *nodeSnapshot {
	sorted := make([]types.NodeCacheEntry, len(entries))
	copy(sorted, entries)
	sortEntries(sorted)

	byName := make(map[string]int, len(sorted))
	for i, e := range sorted {
		byName[e.Name] = i
	}
	return &nodeSnapshot{entries: sorted, byName: byName}
}

func sortEntries(entries []types.NodeCacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Name < entries[j].Name
	})
}

// NodeCache is the copy-on-write, periodically refreshed projection of
// cluster nodes the placement engine scores against.
type NodeCache struct {
	source   NodeSource
	interval time.Duration

	snapshot atomic.Pointer[nodeSnapshot]

	stopCh chan struct{}
}

// NewNodeCache creates a node cache backed by source, refreshed every
// interval. Call Start to begin the refresh loop.
func NewNodeCache(source NodeSource, interval time.Duration) *NodeCache {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c := &NodeCache{source: source, interval: interval, stopCh: make(chan struct{})}
	c.snapshot.Store(newNodeSnapshot(nil))
	return c
}

// Start begins the periodic refresh loop.
func (c *NodeCache) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop halts the refresh loop.
func (c *NodeCache) Stop() {
	close(c.stopCh)
}

func (c *NodeCache) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.refresh(ctx)
	for {
		select {
		case <-ticker.C:
			c.refresh(ctx)
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *NodeCache) refresh(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlacementNodeCacheRefreshDuration)

	entries, err := c.source.ListNodes(ctx)
	if err != nil {
		logger := log.WithKind("node-cache")
		logger.Warn().Err(err).Msg("node cache refresh failed")
		return
	}
	c.snapshot.Store(newNodeSnapshot(entries))
}

// Snapshot returns the current sorted set of nodes. Callers must not mutate
// the returned slice.
func (c *NodeCache) Snapshot() []types.NodeCacheEntry {
	return c.snapshot.Load().entries
}

// Size returns the number of nodes currently tracked.
func (c *NodeCache) Size() int {
	return len(c.snapshot.Load().entries)
}

// NodeCacheSize implements metrics.PlacementSnapshot.
func (c *NodeCache) NodeCacheSize() int { return c.Size() }

// UpdateNode applies an incremental update (e.g. from a store watch event or
// an optimistic post-placement PodCount bump) without waiting for the next
// periodic refresh.
func (c *NodeCache) UpdateNode(entry types.NodeCacheEntry) {
	prev := c.snapshot.Load()
	next := make([]types.NodeCacheEntry, 0, len(prev.entries)+1)
	replaced := false
	for _, e := range prev.entries {
		if e.Name == entry.Name {
			next = append(next, entry)
			replaced = true
			continue
		}
		next = append(next, e)
	}
	if !replaced {
		next = append(next, entry)
	}
	c.snapshot.Store(newNodeSnapshot(next))
}

// RemoveNode drops a node from the cache immediately, e.g. on a store
// delete event, without waiting for the next periodic refresh.
func (c *NodeCache) RemoveNode(name string) {
	prev := c.snapshot.Load()
	if _, ok := prev.byName[name]; !ok {
		return
	}
	next := make([]types.NodeCacheEntry, 0, len(prev.entries)-1)
	for _, e := range prev.entries {
		if e.Name != name {
			next = append(next, e)
		}
	}
	c.snapshot.Store(newNodeSnapshot(next))
}
