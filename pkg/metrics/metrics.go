package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fold metrics
	FoldDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warpengine_fold_duration_seconds",
			Help:    "Time taken to fold a contract up to a sort-key, by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"}, // "ok", "aborted"
	)

	FoldsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warpengine_folds_total",
			Help: "Total number of readState/viewState/dryWrite calls by outcome",
		},
		[]string{"outcome"},
	)

	InteractionsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warpengine_interactions_applied_total",
			Help: "Total number of interactions folded into a valid state transition",
		},
	)

	InteractionsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warpengine_interactions_skipped_total",
			Help: "Total number of interactions skipped, by reason",
		},
		[]string{"reason"}, // "sandbox_error", "evolve_failed", "blacklisted"
	)

	// Cache metrics
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warpengine_cache_lookups_total",
			Help: "Total number of sort-key cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "partial"
	)

	CachePruneDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warpengine_cache_prune_duration_seconds",
			Help:    "Time taken for one cache prune cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheEntriesPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warpengine_cache_entries_pruned_total",
			Help: "Total number of cache entries removed by pruning",
		},
	)

	// Sandbox/executor metrics
	HandlerCompileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warpengine_handler_compile_duration_seconds",
			Help:    "Time taken to compile a sandbox handler for a contract source",
			Buckets: prometheus.DefBuckets,
		},
	)

	HandlersCached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warpengine_handlers_cached",
			Help: "Number of compiled sandbox handlers currently cached",
		},
	)

	// Internal-write / re-entrancy metrics
	InternalWriteDepth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warpengine_internal_write_depth",
			Help:    "Depth of the internal-write call stack reached during one fold",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	InternalWriteCyclesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warpengine_internal_write_cycles_detected_total",
			Help: "Total number of internal-write recursion cycles truncated",
		},
	)

	// Loader metrics
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warpengine_gateway_requests_total",
			Help: "Total number of gateway HTTP requests by status class",
		},
		[]string{"status_class"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warpengine_gateway_request_duration_seconds",
			Help:    "Gateway HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// API server metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warpengine_api_requests_total",
			Help: "Total number of apiserver requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warpengine_api_request_duration_seconds",
			Help:    "apiserver request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(FoldDuration)
	prometheus.MustRegister(FoldsTotal)
	prometheus.MustRegister(InteractionsAppliedTotal)
	prometheus.MustRegister(InteractionsSkippedTotal)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(CachePruneDuration)
	prometheus.MustRegister(CacheEntriesPruned)
	prometheus.MustRegister(HandlerCompileDuration)
	prometheus.MustRegister(HandlersCached)
	prometheus.MustRegister(InternalWriteDepth)
	prometheus.MustRegister(InternalWriteCyclesDetected)
	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
