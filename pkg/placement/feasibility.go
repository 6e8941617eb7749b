package placement

import (
	"fmt"

	"github.com/cuemby/teeplane/pkg/types"
)

// feasible reports whether node can run work at all, independent of how
// well it scores. Every predicate here is a hard gate: failing any one
// excludes the node entirely. reason explains the first failure, for
// Unschedulable diagnostics.
func feasible(node types.NodeCacheEntry, work types.PendingWorkUnit) (bool, string) {
	if ok, reason := resourceFits(node, work.Request); !ok {
		return false, reason
	}
	if ok, reason := tolerates(node.Taints, work.Tolerations); !ok {
		return false, reason
	}
	if work.Affinity != nil && !work.Affinity.Matches(node.Labels) {
		return false, "node affinity requirements not satisfied"
	}
	if ok, reason := conditionsGate(node.Condition); !ok {
		return false, reason
	}
	return true, ""
}

func resourceFits(node types.NodeCacheEntry, req types.ResourceRequest) (bool, string) {
	if req.CPUMillicores > node.Available.CPUMillicores {
		return false, fmt.Sprintf("insufficient cpu: need %d, have %d", req.CPUMillicores, node.Available.CPUMillicores)
	}
	if req.MemoryBytes > node.Available.MemoryBytes {
		return false, fmt.Sprintf("insufficient memory: need %d, have %d", req.MemoryBytes, node.Available.MemoryBytes)
	}
	if req.StorageBytes > node.Available.StorageBytes {
		return false, fmt.Sprintf("insufficient storage: need %d, have %d", req.StorageBytes, node.Available.StorageBytes)
	}
	for resourceName, want := range req.Extended {
		have := node.Available.Extended[resourceName]
		if want > have {
			return false, fmt.Sprintf("insufficient extended resource %q: need %d, have %d", resourceName, want, have)
		}
	}
	return true, ""
}

// tolerates reports whether tolerations cover every NoSchedule/NoExecute
// taint on the node. PreferNoSchedule taints are a soft signal handled in
// scoring, not a hard gate.
func tolerates(taints []types.Taint, tolerations []types.Toleration) (bool, string) {
	for _, taint := range taints {
		if taint.Effect == types.EffectPreferNoSchedule {
			continue
		}
		covered := false
		for _, t := range tolerations {
			if t.Tolerates(taint) {
				covered = true
				break
			}
		}
		if !covered {
			return false, fmt.Sprintf("untolerated taint %s=%s:%s", taint.Key, taint.Value, taint.Effect)
		}
	}
	return true, ""
}

// conditionsGate reports whether the node is healthy enough to be
// considered at all. Ready, network reachability, and the absence of
// memory/disk pressure are hard requirements; everything else degrades
// score instead of gating feasibility.
func conditionsGate(c types.NodeCondition) (bool, string) {
	if !c.Ready {
		return false, "node is not Ready"
	}
	if c.NetworkUnavailable {
		return false, "node network is unavailable"
	}
	if c.MemoryPressure {
		return false, "node is under memory pressure"
	}
	if c.DiskPressure {
		return false, "node is under disk pressure"
	}
	return true, ""
}
