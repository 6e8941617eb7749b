package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/types"
)

// fakeController drives a configurable sequence of outcomes and records
// every record it was asked to reconcile, so tests can assert ordering,
// concurrency, and retry behavior.
type fakeController struct {
	name  string
	kinds []string

	mu          sync.Mutex
	calls       []types.ReconciliationRecord
	inFlight    int32
	maxInFlight int32

	handle func(record types.ReconciliationRecord) Outcome
}

func (f *fakeController) Name() string    { return f.name }
func (f *fakeController) Kinds() []string { return f.kinds }

func (f *fakeController) Reconcile(ctx context.Context, record types.ReconciliationRecord) Outcome {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, record)
	f.mu.Unlock()

	if f.handle != nil {
		return f.handle(record)
	}
	return Success()
}

func (f *fakeController) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func record(kind, name string, priority types.Priority) types.ReconciliationRecord {
	return types.ReconciliationRecord{
		Kind:        types.Kind(kind),
		ResourceKey: types.Key{Kind: types.Kind(kind), Namespace: "default", Name: name},
		EventKind:   types.ReconcileOnChange,
		Priority:    priority,
	}
}

func TestReconcilerInvokesRegisteredController(t *testing.T) {
	ctrl := &fakeController{name: "pods", kinds: []string{"pods"}}
	r := New(Config{Workers: 2, ReconcileTimeout: time.Second})
	r.Register(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	r.Enqueue(record("pods", "web-1", types.PriorityNormal))

	waitFor(t, time.Second, func() bool { return ctrl.callCount() == 1 })
}

func TestReconcilerEnforcesAtMostOneActiveReconciliationPerKey(t *testing.T) {
	release := make(chan struct{})
	ctrl := &fakeController{
		name:  "pods",
		kinds: []string{"pods"},
		handle: func(record types.ReconciliationRecord) Outcome {
			<-release
			return Success()
		},
	}
	r := New(Config{Workers: 4, ReconcileTimeout: time.Second})
	r.Register(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	for i := 0; i < 5; i++ {
		r.Enqueue(record("pods", "web-1", types.PriorityNormal))
	}

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&ctrl.inFlight) >= 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ctrl.maxInFlight))

	close(release)
}

func TestReconcilerRespectsPriorityOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	ctrl := &fakeController{
		name:  "pods",
		kinds: []string{"pods"},
		handle: func(record types.ReconciliationRecord) Outcome {
			mu.Lock()
			order = append(order, record.ResourceKey.Name)
			mu.Unlock()
			return Success()
		},
	}
	r := New(Config{Workers: 1, ReconcileTimeout: time.Second})
	r.Register(ctrl)

	// Enqueue before starting workers so all four land in the queue
	// together and strict-priority ordering governs the pop order.
	r.Enqueue(record("pods", "low", types.PriorityLow))
	r.Enqueue(record("pods", "normal", types.PriorityNormal))
	r.Enqueue(record("pods", "high", types.PriorityHigh))
	r.Enqueue(record("pods", "critical", types.PriorityCritical))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	waitFor(t, time.Second, func() bool { return ctrl.callCount() == 4 })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical", "high", "normal", "low"}, order)
}

func TestReconcilerAntiStarvationDemotesSaturatedBand(t *testing.T) {
	q := newPriorityQueue(0, 2)
	for i := 0; i < 10; i++ {
		q.enqueue(record("pods", "high-"+string(rune('a'+i)), types.PriorityHigh))
	}
	q.enqueue(record("pods", "normal-1", types.PriorityNormal))

	var popped []string
	for i := 0; i < 4; i++ {
		rec, ok := q.pop()
		require.True(t, ok)
		popped = append(popped, rec.ResourceKey.Name)
	}

	// After two consecutive High pops (the quota), the third pop must
	// try lower bands first and find Normal waiting.
	assert.Equal(t, "normal-1", popped[2])
}

func TestReconcilerDedupWindowDropsDuplicateNonCritical(t *testing.T) {
	q := newPriorityQueue(time.Minute, 5)
	assert.True(t, q.enqueue(record("pods", "web-1", types.PriorityNormal)))
	assert.False(t, q.enqueue(record("pods", "web-1", types.PriorityNormal)))
}

func TestReconcilerDedupWindowBypassedForCritical(t *testing.T) {
	q := newPriorityQueue(time.Minute, 5)
	assert.True(t, q.enqueue(record("pods", "web-1", types.PriorityCritical)))
	assert.True(t, q.enqueue(record("pods", "web-1", types.PriorityCritical)))
}

func TestReconcilerRetryBackoffGrowsThenFails(t *testing.T) {
	var attempts int32
	ctrl := &fakeController{
		name:  "pods",
		kinds: []string{"pods"},
		handle: func(record types.ReconciliationRecord) Outcome {
			atomic.AddInt32(&attempts, 1)
			return Retry(apierrors.Internal("transient failure"))
		},
	}
	r := New(Config{
		Workers:          2,
		BaseBackoff:      2 * time.Millisecond,
		MaxRetries:       3,
		ReconcileTimeout: time.Second,
	})
	r.Register(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	r.Enqueue(record("pods", "web-1", types.PriorityNormal))

	// One initial attempt plus MaxRetries retries, then the fabric gives
	// up and stops re-enqueuing.
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&attempts) == 4 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(4), atomic.LoadInt32(&attempts))
}

func TestReconcilerRequeueReschedulesAfterDelay(t *testing.T) {
	var attempts int32
	ctrl := &fakeController{
		name:  "pods",
		kinds: []string{"pods"},
		handle: func(record types.ReconciliationRecord) Outcome {
			n := atomic.AddInt32(&attempts, 1)
			if n == 1 {
				return Requeue(10 * time.Millisecond)
			}
			return Success()
		},
	}
	r := New(Config{Workers: 2, ReconcileTimeout: time.Second})
	r.Register(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	r.Enqueue(record("pods", "web-1", types.PriorityNormal))

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&attempts) == 2 })
}

func TestReconcilerTimeoutConvertsToFailed(t *testing.T) {
	ctrl := &fakeController{
		name:  "pods",
		kinds: []string{"pods"},
		handle: func(record types.ReconciliationRecord) Outcome {
			time.Sleep(100 * time.Millisecond)
			return Success()
		},
	}
	r := New(Config{Workers: 1, ReconcileTimeout: 10 * time.Millisecond})
	r.Register(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	r.Enqueue(record("pods", "web-1", types.PriorityNormal))

	// The controller keeps running in the background (its goroutine is
	// not killed), but the fabric itself must not requeue a Failed
	// outcome, so a second call never arrives.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, ctrl.callCount())
}

func TestReconcilerSkipsUnregisteredKind(t *testing.T) {
	ctrl := &fakeController{name: "pods", kinds: []string{"pods"}}
	r := New(Config{Workers: 1, ReconcileTimeout: time.Second})
	r.Register(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	r.Enqueue(record("secrets", "tls-cert", types.PriorityNormal))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, ctrl.callCount())
}

func TestLeaseContentionRequeuesRatherThanDrops(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	ctrl := &fakeController{
		name:  "pods",
		kinds: []string{"pods"},
		handle: func(record types.ReconciliationRecord) Outcome {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				<-release
			}
			return Success()
		},
	}
	r := New(Config{Workers: 2, ReconcileTimeout: time.Second, DedupWindow: 0})
	r.Register(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	key := types.Key{Kind: "pods", Namespace: "default", Name: "web-1"}.String()
	r.leases.acquire(key)

	r.Enqueue(record("pods", "web-1", types.PriorityNormal))

	// While the lease is held externally, the worker must re-enqueue the
	// record rather than drop it: releasing the lease lets it through.
	time.Sleep(20 * time.Millisecond)
	r.leases.release(key)
	close(release)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&calls) >= 1 })
}

func TestEnqueueDropsWhenMaxQueueSizeReached(t *testing.T) {
	r := New(Config{Workers: 0, MaxQueueSize: 2})

	assert.True(t, r.Enqueue(record("pods", "a", types.PriorityHigh)))
	assert.True(t, r.Enqueue(record("pods", "b", types.PriorityLow)))
	assert.False(t, r.Enqueue(record("pods", "c", types.PriorityNormal)))

	assert.Equal(t, 2, r.totalDepth())
}

func TestQueueDepthsReflectsBandContents(t *testing.T) {
	r := New(Config{Workers: 0})
	r.Enqueue(record("pods", "a", types.PriorityHigh))
	r.Enqueue(record("pods", "b", types.PriorityLow))

	depths := r.QueueDepths()
	assert.Equal(t, 1, depths[types.PriorityHigh.String()])
	assert.Equal(t, 1, depths[types.PriorityLow.String()])
	assert.Equal(t, 0, depths[types.PriorityCritical.String()])
}
