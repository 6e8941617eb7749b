package reconciler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/teeplane/pkg/apierrors"
	"github.com/cuemby/teeplane/pkg/log"
	"github.com/cuemby/teeplane/pkg/metrics"
	"github.com/cuemby/teeplane/pkg/types"
)

// Config controls the reconciliation fabric's worker count, dedup window,
// anti-starvation quota, retry backoff, and per-reconcile timeout.
type Config struct {
	Workers int

	// MaxQueueSize bounds the total number of records queued across all
	// priority bands; Enqueue beyond it is rejected as Overloaded. 0
	// means unbounded.
	MaxQueueSize int

	// DedupWindow is how long a non-Critical enqueue for the same key
	// suppresses a subsequent one.
	DedupWindow time.Duration

	// PriorityQuota is how many consecutive pops from one band are
	// allowed before a worker tries lower bands first.
	PriorityQuota int

	// BaseBackoff and MaxRetries control Retry scheduling: the Nth retry
	// is delayed by BaseBackoff * 2^N, up to MaxRetries after which the
	// record is recorded as Failed instead of retried again.
	BaseBackoff time.Duration
	MaxRetries  int

	// ReconcileTimeout bounds a single Controller.Reconcile call; when it
	// elapses the controller's context is cancelled, the worker stops
	// waiting for it and the record is recorded as Failed. The controller's
	// goroutine is not stopped and may keep running.
	ReconcileTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 500 * time.Millisecond
	}
	if c.PriorityQuota <= 0 {
		c.PriorityQuota = 64
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = 30 * time.Second
	}
	return c
}

// Reconciler is the priority-ordered, deduplicated reconciliation fabric:
// controllers registered by kind, a shared priority queue, and a fixed pool
// of workers enforcing at most one active reconciliation per resource key.
type Reconciler struct {
	cfg Config

	mu          sync.RWMutex
	controllers map[string]Controller

	queue  *priorityQueue
	leases *leaseMap

	stopCh chan struct{}
	group  *errgroup.Group
}

// New constructs a reconciler with no controllers registered yet.
func New(cfg Config) *Reconciler {
	cfg = cfg.withDefaults()
	return &Reconciler{
		cfg:         cfg,
		controllers: make(map[string]Controller),
		queue:       newPriorityQueue(cfg.DedupWindow, cfg.PriorityQuota),
		leases:      newLeaseMap(),
		stopCh:      make(chan struct{}),
	}
}

// Register associates a controller with every kind it declares. Registering
// a second controller for an already-registered kind replaces the first.
func (r *Reconciler) Register(c Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kind := range c.Kinds() {
		r.controllers[kind] = c
	}
}

// Enqueue submits a record for reconciliation. It returns false if the
// record was dropped, either by the dedup window or because the queue is
// at its configured MaxQueueSize (Overloaded).
func (r *Reconciler) Enqueue(record types.ReconciliationRecord) bool {
	if r.cfg.MaxQueueSize > 0 && r.totalDepth() >= r.cfg.MaxQueueSize {
		logger := log.WithComponent("reconciler")
		logger.Warn().
			Str("resource_key", record.ResourceKey.String()).
			Msg("reconciler queue overloaded, dropping enqueue")
		return false
	}
	if record.EnqueuedAt.IsZero() {
		record.EnqueuedAt = time.Now().UTC()
	}
	return r.queue.enqueue(record)
}

func (r *Reconciler) totalDepth() int {
	total := 0
	for _, n := range r.queue.depths() {
		total += n
	}
	return total
}

// QueueDepths implements metrics.ReconcilerSnapshot.
func (r *Reconciler) QueueDepths() map[string]int { return r.queue.depths() }

// ActiveLeaseCount implements metrics.ReconcilerSnapshot.
func (r *Reconciler) ActiveLeaseCount() int { return r.leases.count() }

// Start launches the worker pool. Workers run until ctx is done or Stop is
// called; Stop waits for them to finish their current record.
func (r *Reconciler) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	r.group = g
	for i := 0; i < r.cfg.Workers; i++ {
		workerID := i
		g.Go(func() error {
			r.runWorker(gctx, workerID)
			return nil
		})
	}
}

// Stop signals every worker to finish its current record and exit, then
// waits for them to do so.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	if r.group != nil {
		_ = r.group.Wait()
	}
}

func (r *Reconciler) runWorker(ctx context.Context, workerID int) {
	logger := log.WithComponent("reconciler").With().Int("worker", workerID).Logger()
	logger.Info().Msg("reconciliation worker started")
	defer logger.Info().Msg("reconciliation worker stopped")

	// popCtx also ends on Stop, so a worker idle in Pop notices it.
	popCtx, cancelPop := context.WithCancel(ctx)
	defer cancelPop()
	go func() {
		select {
		case <-r.stopCh:
			cancelPop()
		case <-popCtx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		record, ok := r.queue.Pop(popCtx)
		if !ok {
			continue
		}

		r.process(ctx, record)
	}
}

func (r *Reconciler) process(ctx context.Context, record types.ReconciliationRecord) {
	key := record.ResourceKey.String()
	if !r.leases.acquire(key) {
		metrics.ReconcileOutcomesTotal.WithLabelValues("leased", string(OutcomeRequeue)).Inc()
		r.requeue(record)
		return
	}
	defer r.leases.release(key)

	r.mu.RLock()
	controller, found := r.controllers[string(record.Kind)]
	r.mu.RUnlock()

	if !found {
		metrics.ReconcileOutcomesTotal.WithLabelValues("unregistered", string(OutcomeSkipped)).Inc()
		return
	}

	timer := metrics.NewTimer()
	reconcileCtx, cancel := context.WithTimeout(ctx, r.cfg.ReconcileTimeout)
	outcome := r.runReconcile(reconcileCtx, controller, record)
	cancel()
	timer.ObserveDurationVec(metrics.ReconcileDuration, controller.Name())

	metrics.ReconcileOutcomesTotal.WithLabelValues(controller.Name(), string(outcome.Kind)).Inc()

	switch outcome.Kind {
	case OutcomeSuccess, OutcomeSkipped:
		return
	case OutcomeRequeue:
		r.delayedEnqueue(record, outcome.After)
	case OutcomeRetry:
		r.scheduleRetry(record, outcome.Err)
	case OutcomeFailed:
		logger := log.WithComponent("reconciler")
		logger.Error().
			Str("controller", controller.Name()).
			Str("resource_key", key).
			Err(outcome.Err).
			Msg("reconciliation failed terminally")
	}
}

// runReconcile invokes the controller, converting a context deadline
// exceeded into a Failed outcome rather than letting it look like the
// controller's own decision.
func (r *Reconciler) runReconcile(ctx context.Context, controller Controller, record types.ReconciliationRecord) Outcome {
	done := make(chan Outcome, 1)
	go func() {
		done <- controller.Reconcile(ctx, record)
	}()

	select {
	case outcome := <-done:
		return outcome
	case <-ctx.Done():
		return Failed(apierrors.Internal("reconciliation timed out for " + record.ResourceKey.String()))
	}
}

func (r *Reconciler) scheduleRetry(record types.ReconciliationRecord, cause error) {
	if record.RetryCount >= r.cfg.MaxRetries {
		logger := log.WithComponent("reconciler")
		logger.Error().
			Str("resource_key", record.ResourceKey.String()).
			Int("retry_count", record.RetryCount).
			Err(cause).
			Msg("reconciliation exceeded max retries, recording as failed")
		return
	}

	backoff := r.cfg.BaseBackoff * time.Duration(uint(1)<<uint(record.RetryCount))
	next := record
	next.RetryCount++
	r.delayedEnqueue(next, backoff)
}

func (r *Reconciler) delayedEnqueue(record types.ReconciliationRecord, after time.Duration) {
	if after <= 0 {
		r.requeue(record)
		return
	}
	time.AfterFunc(after, func() {
		r.requeue(record)
	})
}

// requeue puts a record the fabric has already accepted back on its band.
// It skips Enqueue's dedup window and MaxQueueSize check, so the record's
// own reinsertion is never dropped as a duplicate of itself.
func (r *Reconciler) requeue(record types.ReconciliationRecord) {
	q := r.queue
	idx := bandIndex(record.Priority)
	q.mu.Lock()
	q.bands[idx] = append(q.bands[idx], record)
	q.mu.Unlock()
	q.wake()
}
