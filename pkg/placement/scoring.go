package placement

import (
	"github.com/cuemby/teeplane/pkg/types"
)

// Scoring weights from spec §4.B. They sum to 100; score() returns a value
// on the same 0-100 scale.
const (
	weightResourceBalance = 40.0
	weightNodeAffinity    = 20.0
	weightPodAffinity     = 20.0
	weightLoadBalancing   = 10.0
	weightConditionHealth = 10.0
)

// score computes how well node fits work, on a 0-100 scale, given the rest
// of the cluster (for pod (anti-)affinity topology counting) and the
// configured target utilization.
func score(node types.NodeCacheEntry, work types.PendingWorkUnit, cluster []types.NodeCacheEntry, targetUtilization float64) float64 {
	return weightResourceBalance*resourceBalanceScore(node, work.Request, targetUtilization) +
		weightNodeAffinity*nodeAffinityScore(node, work.Affinity) +
		weightPodAffinity*podAffinityScore(node, work, cluster) +
		weightLoadBalancing*loadBalancingScore(node, cluster) +
		weightConditionHealth*conditionHealthScore(node.Condition)
}

// resourceBalanceScore favors nodes that land near targetUtilization after
// the request is placed, rather than nodes with the most leftover headroom,
// so the cluster bin-packs toward its configured target instead of spreading
// work as thin as possible.
func resourceBalanceScore(node types.NodeCacheEntry, req types.ResourceRequest, targetUtilization float64) float64 {
	cpuFrac := fractionRemaining(node.Available.CPUMillicores, req.CPUMillicores)
	memFrac := fractionRemaining(node.Available.MemoryBytes, req.MemoryBytes)
	storageFrac := fractionRemaining(node.Available.StorageBytes, req.StorageBytes)

	targetRemaining := clamp01(1.0 - targetUtilization)
	proximity := 1.0 - (sq(cpuFrac-targetRemaining)+sq(memFrac-targetRemaining)+sq(storageFrac-targetRemaining))/3

	// The balance component penalizes an uneven leftover spread: a node
	// that becomes CPU-starved but memory-rich scores worse than one that
	// leaves both dimensions proportionally similar.
	mean := (cpuFrac + memFrac + storageFrac) / 3
	variance := (sq(cpuFrac-mean) + sq(memFrac-mean) + sq(storageFrac-mean)) / 3
	balance := 1.0 - variance

	return clamp01(proximity*0.5 + balance*0.3 + mean*0.2)
}

func fractionRemaining(available, requested int64) float64 {
	if available <= 0 {
		if requested <= 0 {
			return 1.0
		}
		return 0.0
	}
	remaining := float64(available-requested) / float64(available)
	return clamp01(remaining)
}

func sq(v float64) float64 { return v * v }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// nodeAffinityScore rewards matching a PreferredSchedulingTerm, weighted by
// its declared weight. Required terms are already enforced as a feasibility
// gate and contribute nothing further here.
func nodeAffinityScore(node types.NodeCacheEntry, affinity *types.NodeAffinity) float64 {
	if affinity == nil || len(affinity.Preferred) == 0 {
		return 1.0 // no preference expressed; don't penalize any node
	}

	var totalWeight, matchedWeight int
	for _, pref := range affinity.Preferred {
		totalWeight += pref.Weight
		if pref.Term.Matches(node.Labels) {
			matchedWeight += pref.Weight
		}
	}
	if totalWeight == 0 {
		return 1.0
	}
	return clamp01(float64(matchedWeight) / float64(totalWeight))
}

// podAffinityScore rewards co-locating with PodAffinity topology peers and
// penalizes co-locating with AntiAffinity peers. Since the node cache does
// not track which pods live where, this approximates topology proximity by
// matching the term's label selector against the node's labels and requiring
// the node to carry TopologyKey; PodCount and the rest of the cluster are
// not consulted.
func podAffinityScore(node types.NodeCacheEntry, work types.PendingWorkUnit, cluster []types.NodeCacheEntry) float64 {
	if len(work.PodAffinity) == 0 && len(work.AntiAffinity) == 0 {
		return 1.0
	}

	var affinityScore float64 = 1.0
	for _, term := range work.PodAffinity {
		if !matchesTopology(node, term) {
			affinityScore -= float64(term.Weight) / 100.0
		}
	}
	for _, term := range work.AntiAffinity {
		if matchesTopology(node, term) {
			affinityScore -= float64(term.Weight) / 100.0
		}
	}
	return clamp01(affinityScore)
}

func matchesTopology(node types.NodeCacheEntry, term types.PodAffinityTerm) bool {
	for _, req := range term.LabelSelector {
		if !req.Matches(node.Labels) {
			return false
		}
	}
	_, hasTopologyKey := node.Labels[term.TopologyKey]
	return hasTopologyKey
}

// loadBalancingScore favors nodes with fewer pods relative to the busiest
// node in the cluster, spreading load rather than stacking it.
func loadBalancingScore(node types.NodeCacheEntry, cluster []types.NodeCacheEntry) float64 {
	maxPods := 0
	for _, n := range cluster {
		if n.PodCount > maxPods {
			maxPods = n.PodCount
		}
	}
	if maxPods == 0 {
		return 1.0
	}
	return clamp01(1.0 - float64(node.PodCount)/float64(maxPods))
}

// conditionHealthScore penalizes pressure conditions. Memory and disk
// pressure already gate feasibility, so for a feasible node only PIDPressure
// lowers this score.
func conditionHealthScore(c types.NodeCondition) float64 {
	score := 1.0
	if c.MemoryPressure {
		score -= 0.4
	}
	if c.DiskPressure {
		score -= 0.4
	}
	if c.PIDPressure {
		score -= 0.2
	}
	return clamp01(score)
}
