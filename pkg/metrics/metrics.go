package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	StoreClusterVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teeplane_store_cluster_version",
			Help: "Current cluster-wide version counter",
		},
	)

	StoreResourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teeplane_store_resources_total",
			Help: "Total number of live resources by kind",
		},
		[]string{"kind"},
	)

	StoreChangeRingSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teeplane_store_change_ring_size",
			Help: "Number of change events currently retained in the ring",
		},
	)

	StoreVerbDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teeplane_store_verb_duration_seconds",
			Help:    "Duration of store verbs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb", "kind"},
	)

	StoreVerbErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teeplane_store_verb_errors_total",
			Help: "Total number of store verb failures by kind of error",
		},
		[]string{"verb", "error_kind"},
	)

	StoreWatchSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teeplane_store_watch_subscribers_total",
			Help: "Number of active watch subscribers",
		},
	)

	// Placement metrics
	PlacementDecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teeplane_placement_decision_duration_seconds",
			Help:    "Time taken to produce a placement decision in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teeplane_placement_decisions_total",
			Help: "Total number of placement decisions by outcome",
		},
		[]string{"outcome"},
	)

	PlacementCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teeplane_placement_decision_cache_hits_total",
			Help: "Total number of decision-cache hits",
		},
	)

	PlacementCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teeplane_placement_decision_cache_misses_total",
			Help: "Total number of decision-cache misses",
		},
	)

	PlacementNodeCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teeplane_placement_node_cache_size",
			Help: "Number of nodes currently tracked in the placement node cache",
		},
	)

	PlacementNodeCacheRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teeplane_placement_node_cache_refresh_duration_seconds",
			Help:    "Duration of a node-cache refresh cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler metrics
	ReconcilerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "teeplane_reconciler_queue_depth",
			Help: "Number of queued reconciliation records by priority band",
		},
		[]string{"priority"},
	)

	ReconcilerDedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teeplane_reconciler_deduped_total",
			Help: "Total number of enqueue calls dropped by the dedup window",
		},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teeplane_reconcile_duration_seconds",
			Help:    "Duration of a single reconcile() call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"controller"},
	)

	ReconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teeplane_reconcile_outcomes_total",
			Help: "Total number of reconcile outcomes by controller and outcome",
		},
		[]string{"controller", "outcome"},
	)

	ReconcilerActiveLeases = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teeplane_reconciler_active_leases",
			Help: "Number of resource keys currently under an active reconciliation lease",
		},
	)
)

func init() {
	prometheus.MustRegister(
		StoreClusterVersion,
		StoreResourcesTotal,
		StoreChangeRingSize,
		StoreVerbDuration,
		StoreVerbErrorsTotal,
		StoreWatchSubscribersTotal,
		PlacementDecisionDuration,
		PlacementDecisionsTotal,
		PlacementCacheHitsTotal,
		PlacementCacheMissesTotal,
		PlacementNodeCacheSize,
		PlacementNodeCacheRefreshDuration,
		ReconcilerQueueDepth,
		ReconcilerDedupedTotal,
		ReconcileDuration,
		ReconcileOutcomesTotal,
		ReconcilerActiveLeases,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
