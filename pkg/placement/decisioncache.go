package placement

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/teeplane/pkg/metrics"
	"github.com/cuemby/teeplane/pkg/types"
)

// Decision is a cached placement outcome.
type Decision struct {
	NodeName string
	Score    float64
}

// decisionCache memoizes Place results by a signature of the request shape,
// so that a burst of equivalent pending work (same resource ask,
// tolerations, affinity shape, and priority bucket) doesn't re-run scoring
// against every node. singleflight collapses concurrent misses for the same
// signature into one scoring pass.
type decisionCache struct {
	lru    *expirable.LRU[string, Decision]
	flight singleflight.Group
}

func newDecisionCache(ttl time.Duration, capacity int) *decisionCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if capacity <= 0 {
		capacity = 4096
	}
	return &decisionCache{lru: expirable.NewLRU[string, Decision](capacity, nil, ttl)}
}

// getOrCompute returns the cached decision for signature, or computes it via
// compute (at most once across concurrent callers sharing signature).
func (c *decisionCache) getOrCompute(signature string, compute func() (Decision, error)) (Decision, bool, error) {
	if d, ok := c.lru.Get(signature); ok {
		metrics.PlacementCacheHitsTotal.Inc()
		return d, true, nil
	}

	metrics.PlacementCacheMissesTotal.Inc()
	v, err, _ := c.flight.Do(signature, func() (interface{}, error) {
		d, err := compute()
		if err != nil {
			return Decision{}, err
		}
		c.lru.Add(signature, d)
		return d, nil
	})
	if err != nil {
		return Decision{}, false, err
	}
	return v.(Decision), false, nil
}

// invalidate drops signature from the cache, e.g. when the node cache
// changes enough that a stale decision could no longer be honored.
func (c *decisionCache) invalidate(signature string) {
	c.lru.Remove(signature)
}

// purge clears every cached decision.
func (c *decisionCache) purge() {
	c.lru.Purge()
}

// signature canonicalizes a pending work unit's request shape into a stable
// cache key: resource request, tolerations, affinity shape, and a priority
// bucket (not the exact priority value, so requests that differ only by a
// few priority points still share a cache entry).
func signature(work types.PendingWorkUnit) string {
	var b strings.Builder

	fmt.Fprintf(&b, "cpu=%d;mem=%d;storage=%d;", work.Request.CPUMillicores, work.Request.MemoryBytes, work.Request.StorageBytes)

	extKeys := make([]string, 0, len(work.Request.Extended))
	for k := range work.Request.Extended {
		extKeys = append(extKeys, k)
	}
	sort.Strings(extKeys)
	for _, k := range extKeys {
		fmt.Fprintf(&b, "ext:%s=%d;", k, work.Request.Extended[k])
	}

	tolerations := make([]string, 0, len(work.Tolerations))
	for _, t := range work.Tolerations {
		tolerations = append(tolerations, fmt.Sprintf("%s:%s:%s:%s", t.Key, t.Operator, t.Value, t.Effect))
	}
	sort.Strings(tolerations)
	b.WriteString("tol=")
	b.WriteString(strings.Join(tolerations, ","))
	b.WriteString(";")

	b.WriteString("affinity=")
	b.WriteString(affinityShape(work))
	b.WriteString(";")

	fmt.Fprintf(&b, "priority_bucket=%d", priorityBucket(work.Priority))

	return fmt.Sprintf("%x", xxhash.Sum64String(b.String()))
}

// affinityShape describes the structure (not exact values) of node/pod
// affinity so the signature doesn't fragment across cosmetically distinct
// but equivalent requests.
func affinityShape(work types.PendingWorkUnit) string {
	var b strings.Builder
	if work.Affinity != nil {
		fmt.Fprintf(&b, "req=%d;pref=%d;", len(work.Affinity.Required), len(work.Affinity.Preferred))
	}
	fmt.Fprintf(&b, "pod=%d;anti=%d", len(work.PodAffinity), len(work.AntiAffinity))
	return b.String()
}

// priorityBucket collapses the priority scale into coarse bands so that
// placement decisions for requests a few points apart in priority are still
// considered cache-equivalent.
func priorityBucket(priority int) int {
	return priority / 10
}
