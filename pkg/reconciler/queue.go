package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/teeplane/pkg/metrics"
	"github.com/cuemby/teeplane/pkg/types"
)

var priorityBands = []types.Priority{
	types.PriorityCritical,
	types.PriorityHigh,
	types.PriorityNormal,
	types.PriorityLow,
}

func bandIndex(p types.Priority) int {
	switch p {
	case types.PriorityCritical:
		return 0
	case types.PriorityHigh:
		return 1
	case types.PriorityNormal:
		return 2
	default:
		return 3
	}
}

// priorityQueue is four strict-priority FIFO bands sharing a dedup window
// and a quota-based anti-starvation rule: once a band has been popped
// quota times in a row, the next pop tries lower bands first.
type priorityQueue struct {
	mu    sync.Mutex
	bands [4][]types.ReconciliationRecord

	dedup       map[string]time.Time
	dedupWindow time.Duration

	quota    int
	streak   int
	lastBand types.Priority

	signal chan struct{}
}

func newPriorityQueue(dedupWindow time.Duration, quota int) *priorityQueue {
	if quota <= 0 {
		quota = 5
	}
	return &priorityQueue{
		dedup:       make(map[string]time.Time),
		dedupWindow: dedupWindow,
		quota:       quota,
		signal:      make(chan struct{}, 1),
	}
}

// enqueue appends rec to its priority band, unless a non-Critical record
// for the same key was enqueued within the dedup window. Every enqueue
// attempt (accepted or deduped) refreshes the window for that key, so
// continuous churn on a key keeps deferring it rather than letting a
// slightly-stale duplicate slip through.
func (q *priorityQueue) enqueue(rec types.ReconciliationRecord) bool {
	key := rec.ResourceKey.String()
	now := time.Now()

	q.mu.Lock()
	if rec.Priority != types.PriorityCritical {
		last, seen := q.dedup[key]
		q.dedup[key] = now
		if seen && now.Sub(last) < q.dedupWindow {
			q.mu.Unlock()
			metrics.ReconcilerDedupedTotal.Inc()
			return false
		}
	}

	idx := bandIndex(rec.Priority)
	q.bands[idx] = append(q.bands[idx], rec)
	q.mu.Unlock()

	q.wake()
	return true
}

func (q *priorityQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop removes and returns the next record in strict priority order, subject
// to the anti-starvation rotation. ok is false if every band is empty.
func (q *priorityQueue) pop() (types.ReconciliationRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	order := priorityBands
	if q.streak >= q.quota {
		order = demote(priorityBands, q.lastBand)
	}

	for _, p := range order {
		idx := bandIndex(p)
		if len(q.bands[idx]) == 0 {
			continue
		}
		rec := q.bands[idx][0]
		q.bands[idx] = q.bands[idx][1:]

		if p == q.lastBand {
			q.streak++
		} else {
			q.streak = 1
			q.lastBand = p
		}
		return rec, true
	}
	return types.ReconciliationRecord{}, false
}

func demote(order []types.Priority, band types.Priority) []types.Priority {
	out := make([]types.Priority, 0, len(order))
	for _, p := range order {
		if p != band {
			out = append(out, p)
		}
	}
	return append(out, band)
}

// Pop blocks until a record is available or ctx is done.
func (q *priorityQueue) Pop(ctx context.Context) (types.ReconciliationRecord, bool) {
	for {
		if rec, ok := q.pop(); ok {
			return rec, true
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return types.ReconciliationRecord{}, false
		}
	}
}

// depths returns the current queue length per priority band.
func (q *priorityQueue) depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, 4)
	for _, p := range priorityBands {
		out[p.String()] = len(q.bands[bandIndex(p)])
	}
	return out
}
