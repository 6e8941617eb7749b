// Package metrics exposes the control plane's Prometheus gauges, counters,
// and histograms (store verb latency, placement decision latency and cache
// hit rate, reconciler queue depth and outcome counts), a Timer helper for
// recording histogram observations, and the /health, /ready, /live HTTP
// handlers used by the telemetry collaborator.
package metrics
