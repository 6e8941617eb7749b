// Package placement implements the control plane's low-latency placement
// engine: a periodically refreshed node cache, feasibility predicates, a
// weighted scoring function, and a TTL'd decision cache that lets repeated
// requests for equivalent pending work skip scoring entirely.
package placement
