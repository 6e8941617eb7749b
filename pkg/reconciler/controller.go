package reconciler

import (
	"context"

	"github.com/cuemby/teeplane/pkg/types"
)

// Controller reconciles one or more kinds of resource. A control plane
// typically registers one controller per kind (or per closely related
// group of kinds), each independently tracked for metrics and health.
type Controller interface {
	// Name identifies the controller in logs, metrics, and health checks.
	Name() string

	// Kinds lists the resource kinds this controller watches and should
	// receive reconciliation records for.
	Kinds() []string

	// Reconcile brings the resource named by record.ResourceKey toward its
	// desired state and reports what happened.
	Reconcile(ctx context.Context, record types.ReconciliationRecord) Outcome
}

// HealthReporter is an optional interface a Controller can implement to
// report its own health beyond "is it registered". The Reconciler does not
// call it, and nothing feeds it into pkg/metrics' readiness endpoint.
type HealthReporter interface {
	Healthy() (bool, string)
}
