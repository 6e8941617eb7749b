/*
Package types is the shared vocabulary of the control plane: the resource
model the store persists, the projections placement derives from it, and
the pending work units and reconciliation records that flow between
components. No package in this module should redefine these shapes locally.
*/
package types
