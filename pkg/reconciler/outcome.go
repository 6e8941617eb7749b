package reconciler

import "time"

// OutcomeKind is the result a Controller's Reconcile reports for a record.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "Success"
	OutcomeRequeue OutcomeKind = "Requeue"
	OutcomeRetry   OutcomeKind = "Retry"
	OutcomeFailed  OutcomeKind = "Failed"
	OutcomeSkipped OutcomeKind = "Skipped"
)

// Outcome is what a Controller returns from Reconcile. Exactly one of the
// constructors below should be used to build one.
type Outcome struct {
	Kind  OutcomeKind
	After time.Duration // Requeue: when to reconsider the same record
	Err   error         // Retry, Failed: what went wrong
}

// Success reports that the record reached its desired state.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// Requeue reports that the record should be reconsidered after a delay,
// without it counting as a failure (e.g. waiting on a dependency).
func Requeue(after time.Duration) Outcome { return Outcome{Kind: OutcomeRequeue, After: after} }

// Retry reports a transient failure that should be retried with backoff.
func Retry(err error) Outcome { return Outcome{Kind: OutcomeRetry, Err: err} }

// Failed reports a terminal failure; the record is not requeued further.
func Failed(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }

// Skipped reports that the record no longer needs reconciliation (e.g. the
// resource was deleted before the worker got to it).
func Skipped() Outcome { return Outcome{Kind: OutcomeSkipped} }
