// Package apierrors defines the stable error taxonomy shared by the store,
// placement engine, and reconciler. Every verb in the core returns one of
// these kinds instead of an ad-hoc wrapped error, so collaborators outside
// the core (the HTTP surface, the HA layer, telemetry) can branch on Kind
// without parsing messages.
package apierrors
