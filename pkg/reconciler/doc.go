// Package reconciler implements the control plane's reconciliation fabric:
// four strict-priority FIFO queues with a dedup window, a fixed worker pool
// enforcing at most one active reconciliation per resource key, and the
// Outcome handling (success, requeue, retry with backoff, failure, skip)
// that drives what happens to a record after a controller processes it.
package reconciler
