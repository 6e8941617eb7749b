// Package log provides the control plane's structured logging, wrapping
// zerolog with a global instance configured once at startup via Init, and
// component/kind/resource-scoped child loggers for the store, placement
// engine, and reconciler.
package log
