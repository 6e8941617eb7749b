package placement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/types"
)

type fakeNodeSource struct {
	nodes []types.NodeCacheEntry
}

func (f *fakeNodeSource) ListNodes(ctx context.Context) ([]types.NodeCacheEntry, error) {
	return f.nodes, nil
}

func healthyNode(name string, cpu, mem int64) types.NodeCacheEntry {
	return types.NodeCacheEntry{
		Name:      name,
		Available: types.ResourceRequest{CPUMillicores: cpu, MemoryBytes: mem, StorageBytes: 100 << 30},
		Capacity:  types.ResourceRequest{CPUMillicores: cpu, MemoryBytes: mem, StorageBytes: 100 << 30},
		Condition: types.NodeCondition{Ready: true},
	}
}

func newTestEngine(t *testing.T, nodes []types.NodeCacheEntry) *Engine {
	t.Helper()
	source := &fakeNodeSource{nodes: nodes}
	e := New(source, Config{DecisionCacheTTL: time.Minute})
	e.nodeCache.refresh(context.Background())
	return e
}

func TestPlaceSelectsFeasibleNode(t *testing.T) {
	e := newTestEngine(t, []types.NodeCacheEntry{
		healthyNode("node-a", 2000, 4<<30),
		healthyNode("node-b", 2000, 4<<30),
	})

	decision, err := e.Place(context.Background(), types.PendingWorkUnit{
		Name:    "web-1",
		Request: types.ResourceRequest{CPUMillicores: 500, MemoryBytes: 1 << 30},
	})
	require.NoError(t, err)
	assert.Contains(t, []string{"node-a", "node-b"}, decision.NodeName)
}

func TestPlaceExcludesNodesFailingResourcePredicate(t *testing.T) {
	tight := healthyNode("node-tight", 100, 1<<20)
	roomy := healthyNode("node-roomy", 4000, 8<<30)
	e := newTestEngine(t, []types.NodeCacheEntry{tight, roomy})

	decision, err := e.Place(context.Background(), types.PendingWorkUnit{
		Name:    "big-job",
		Request: types.ResourceRequest{CPUMillicores: 2000, MemoryBytes: 4 << 30},
	})
	require.NoError(t, err)
	assert.Equal(t, "node-roomy", decision.NodeName)
}

func TestPlaceReturnsUnschedulableWhenNoNodeTolerates(t *testing.T) {
	node := healthyNode("node-a", 2000, 4<<30)
	node.Taints = []types.Taint{{Key: "dedicated", Value: "gpu", Effect: types.EffectNoSchedule}}
	e := newTestEngine(t, []types.NodeCacheEntry{node})

	_, err := e.Place(context.Background(), types.PendingWorkUnit{
		Name:    "web-1",
		Request: types.ResourceRequest{CPUMillicores: 100, MemoryBytes: 1 << 20},
	})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindUnschedulable, apierrors.KindOf(err))
}

func TestPlaceDeterministicTieBreakByName(t *testing.T) {
	alpha := healthyNode("alpha", 2000, 4<<30)
	beta := healthyNode("beta", 2000, 4<<30)
	e := newTestEngine(t, []types.NodeCacheEntry{beta, alpha})

	decision, err := e.Place(context.Background(), types.PendingWorkUnit{
		Name:    "web-1",
		Request: types.ResourceRequest{CPUMillicores: 100, MemoryBytes: 1 << 20},
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", decision.NodeName)
}

func TestDecisionCacheServesRepeatedSignature(t *testing.T) {
	e := newTestEngine(t, []types.NodeCacheEntry{healthyNode("node-a", 2000, 4<<30)})
	work := types.PendingWorkUnit{Name: "web-1", Request: types.ResourceRequest{CPUMillicores: 100, MemoryBytes: 1 << 20}}

	first, err := e.Place(context.Background(), work)
	require.NoError(t, err)

	second, err := e.Place(context.Background(), work)
	require.NoError(t, err)

	assert.Equal(t, first.NodeName, second.NodeName)
}

func TestFeasibilityFastPathSkipsFullScoring(t *testing.T) {
	source := &fakeNodeSource{nodes: []types.NodeCacheEntry{
		healthyNode("node-a", 2000, 4<<30),
		healthyNode("node-b", 2000, 4<<30),
	}}
	e := New(source, Config{DecisionCacheTTL: time.Minute, FeasibilityFastPath: true})
	e.nodeCache.refresh(context.Background())

	decision, err := e.Place(context.Background(), types.PendingWorkUnit{
		Name:    "web-1",
		Request: types.ResourceRequest{CPUMillicores: 100, MemoryBytes: 1 << 20},
	})
	require.NoError(t, err)
	assert.Contains(t, []string{"node-a", "node-b"}, decision.NodeName)
}

func TestResourceBalanceScorePrefersTargetUtilization(t *testing.T) {
	req := types.ResourceRequest{CPUMillicores: 300, MemoryBytes: 0, StorageBytes: 0}

	// snug ends with 70% of its available CPU left, nearer the 30% left
	// that a 70% target utilization aims for; roomy keeps 97% and has far
	// more headroom than the target wants.
	snug := types.NodeCacheEntry{Available: types.ResourceRequest{CPUMillicores: 1000}}
	roomy := types.NodeCacheEntry{Available: types.ResourceRequest{CPUMillicores: 10000}}

	snugScore := resourceBalanceScore(snug, req, 0.7)
	roomyScore := resourceBalanceScore(roomy, req, 0.7)

	assert.Greater(t, snugScore, roomyScore)
}

func TestPlaceExcludesNodeUnderMemoryOrDiskPressure(t *testing.T) {
	pressured := healthyNode("node-pressured", 2000, 4<<30)
	pressured.Condition.MemoryPressure = true
	roomy := healthyNode("node-roomy", 2000, 4<<30)
	e := newTestEngine(t, []types.NodeCacheEntry{pressured, roomy})

	decision, err := e.Place(context.Background(), types.PendingWorkUnit{
		Name:    "web-1",
		Request: types.ResourceRequest{CPUMillicores: 100, MemoryBytes: 1 << 20},
	})
	require.NoError(t, err)
	assert.Equal(t, "node-roomy", decision.NodeName)
}

func TestPlaceReturnsUnschedulableWhenOnlyNodeHasDiskPressure(t *testing.T) {
	node := healthyNode("node-a", 2000, 4<<30)
	node.Condition.DiskPressure = true
	e := newTestEngine(t, []types.NodeCacheEntry{node})

	_, err := e.Place(context.Background(), types.PendingWorkUnit{
		Name:    "web-1",
		Request: types.ResourceRequest{CPUMillicores: 100, MemoryBytes: 1 << 20},
	})
	require.Error(t, err)
	assert.Equal(t, apierrors.KindUnschedulable, apierrors.KindOf(err))
}

func TestDecisionCacheHitRevalidatesAgainstRemovedNode(t *testing.T) {
	e := newTestEngine(t, []types.NodeCacheEntry{healthyNode("node-a", 2000, 4<<30)})
	work := types.PendingWorkUnit{Name: "web-1", Request: types.ResourceRequest{CPUMillicores: 100, MemoryBytes: 1 << 20}}

	first, err := e.Place(context.Background(), work)
	require.NoError(t, err)
	assert.Equal(t, "node-a", first.NodeName)

	e.RemoveNode("node-a")
	e.UpdateNode(healthyNode("node-b", 2000, 4<<30))

	second, err := e.Place(context.Background(), work)
	require.NoError(t, err)
	assert.Equal(t, "node-b", second.NodeName)
}

func TestDecisionCacheHitRevalidatesWhenCachedNodeNoLongerFits(t *testing.T) {
	e := newTestEngine(t, []types.NodeCacheEntry{healthyNode("node-a", 2000, 4<<30)})
	work := types.PendingWorkUnit{Name: "web-1", Request: types.ResourceRequest{CPUMillicores: 100, MemoryBytes: 1 << 20}}

	first, err := e.Place(context.Background(), work)
	require.NoError(t, err)
	assert.Equal(t, "node-a", first.NodeName)

	starved := healthyNode("node-a", 2000, 4<<30)
	starved.Condition.MemoryPressure = true
	e.UpdateNode(starved)

	_, err = e.Place(context.Background(), work)
	require.Error(t, err)
	assert.Equal(t, apierrors.KindUnschedulable, apierrors.KindOf(err))
}

func TestOptimisticReserveDoesNotReinsertRemovedNode(t *testing.T) {
	e := newTestEngine(t, []types.NodeCacheEntry{healthyNode("node-a", 2000, 4<<30)})
	e.RemoveNode("node-a")
	assert.Equal(t, 0, e.NodeCacheSize())

	_, ok := optimisticReserve(e.nodeCache, "node-a", types.PendingWorkUnit{
		Request: types.ResourceRequest{CPUMillicores: 100},
	})
	assert.False(t, ok)
	assert.Equal(t, 0, e.NodeCacheSize())
}

func TestNodeCacheIncrementalUpdateAndRemove(t *testing.T) {
	e := newTestEngine(t, []types.NodeCacheEntry{healthyNode("node-a", 2000, 4<<30)})
	assert.Equal(t, 1, e.NodeCacheSize())

	e.UpdateNode(healthyNode("node-b", 1000, 2<<30))
	assert.Equal(t, 2, e.NodeCacheSize())

	e.RemoveNode("node-a")
	assert.Equal(t, 1, e.NodeCacheSize())
}
