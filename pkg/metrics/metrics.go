// Package metrics provides Prometheus metrics for the sui-oracle process.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SourceFetchesTotal counts quote fetches per source, pair and status.
	SourceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetches_total",
			Help: "Total number of quote fetches per source",
		},
		[]string{"source", "pair", "status"},
	)

	// SourceFetchDuration is a histogram of quote fetch latencies.
	SourceFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Duration of quote fetches",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	// SourceHealth is a gauge of the health status of price sources.
	SourceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_health",
			Help: "Health status of price sources (1=healthy, 0=unhealthy)",
		},
		[]string{"source", "type"},
	)

	// SourceLastUpdate is a gauge of the last update timestamp from sources.
	SourceLastUpdate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_last_update_timestamp",
			Help: "Unix timestamp of last update from source",
		},
		[]string{"source"},
	)

	// PriceAggregationDuration is a histogram of price aggregation duration.
	PriceAggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "price_aggregation_duration_seconds",
			Help:    "Duration of price aggregation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// AggregationGapsTotal counts cycles in which a pair had no usable quote.
	AggregationGapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregation_gaps_total",
			Help: "Total number of cycles where a pair had no successful quotes",
		},
		[]string{"pair"},
	)

	// OutlierRejectionsTotal is a counter of rejected outlier prices.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outlier_rejections_total",
			Help: "Total number of outlier prices rejected",
		},
		[]string{"pair"},
	)

	// AggregatedPrice is the last published consensus price per pair.
	AggregatedPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aggregated_price",
			Help: "Last aggregated price per pair",
		},
		[]string{"pair"},
	)

	// ReconcileOutcomesTotal counts reconciler outcomes per pair and action.
	ReconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Total number of reconciliation outcomes",
		},
		[]string{"pair", "action"},
	)

	// ChainSubmissionsTotal counts ledger mutations by operation and result class.
	ChainSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_submissions_total",
			Help: "Total number of chain submissions",
		},
		[]string{"op", "class"},
	)

	// ChainSubmissionDuration is a histogram of chain submission latencies.
	ChainSubmissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chain_submission_duration_seconds",
			Help:    "Duration of chain submissions",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"op"},
	)

	// RPCFailoversTotal is a counter of JSON-RPC endpoint failovers.
	RPCFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpc_failovers_total",
			Help: "Total number of RPC endpoint failovers",
		},
	)

	// RegistryPersistsTotal counts registry flushes by status.
	RegistryPersistsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_persists_total",
			Help: "Total number of registry persist attempts",
		},
		[]string{"status"},
	)

	// RegistryEntries is the number of pairs currently registered.
	RegistryEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_entries",
			Help: "Number of pairs with a known on-chain object",
		},
	)

	// CycleDuration is a histogram of full publish cycle durations.
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cycle_duration_seconds",
			Help:    "Duration of publish cycles",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// CycleOverrunsTotal counts ticks skipped because a cycle was still running.
	CycleOverrunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cycle_overruns_total",
			Help: "Total number of skipped ticks due to a cycle outlasting the interval",
		},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default Prometheus registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			SourceFetchesTotal,
			SourceFetchDuration,
			SourceHealth,
			SourceLastUpdate,
			PriceAggregationDuration,
			AggregationGapsTotal,
			OutlierRejectionsTotal,
			AggregatedPrice,
			ReconcileOutcomesTotal,
			ChainSubmissionsTotal,
			ChainSubmissionDuration,
			RPCFailoversTotal,
			RegistryPersistsTotal,
			RegistryEntries,
			CycleDuration,
			CycleOverrunsTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ServeHTTP serves Prometheus metrics on the specified address and path.
func ServeHTTP(addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordSourceFetch records a quote fetch and its latency.
func RecordSourceFetch(source, pair, status string, duration time.Duration) {
	SourceFetchesTotal.WithLabelValues(source, pair, status).Inc()
	SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	if status == "success" {
		SourceLastUpdate.WithLabelValues(source).SetToCurrentTime()
	}
}

// RecordSourceHealth records the health status of a source.
func RecordSourceHealth(source, sourceType string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	SourceHealth.WithLabelValues(source, sourceType).Set(val)
}

// RecordAggregation records a price aggregation operation.
func RecordAggregation(method string, duration time.Duration) {
	PriceAggregationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordAggregationGap records a pair without data for a cycle.
func RecordAggregationGap(pair string) {
	AggregationGapsTotal.WithLabelValues(pair).Inc()
}

// RecordOutlierRejection records an outlier rejection.
func RecordOutlierRejection(pair string) {
	OutlierRejectionsTotal.WithLabelValues(pair).Inc()
}

// RecordAggregatedPrice stores the last consensus price for a pair.
func RecordAggregatedPrice(pair string, price float64) {
	AggregatedPrice.WithLabelValues(pair).Set(price)
}

// RecordReconcile records the action taken for a pair.
func RecordReconcile(pair, action string) {
	ReconcileOutcomesTotal.WithLabelValues(pair, action).Inc()
}

// RecordChainSubmission records a chain mutation with its result class.
func RecordChainSubmission(op, class string, duration time.Duration) {
	ChainSubmissionsTotal.WithLabelValues(op, class).Inc()
	ChainSubmissionDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRPCFailover records an RPC endpoint failover event.
func RecordRPCFailover() {
	RPCFailoversTotal.Inc()
}

// RecordRegistryPersist records a registry flush.
func RecordRegistryPersist(ok bool, entries int) {
	status := "success"
	if !ok {
		status = "failure"
	}
	RegistryPersistsTotal.WithLabelValues(status).Inc()
	RegistryEntries.Set(float64(entries))
}

// RecordCycle records a completed publish cycle.
func RecordCycle(duration time.Duration) {
	CycleDuration.Observe(duration.Seconds())
}

// RecordCycleOverrun records a skipped tick.
func RecordCycleOverrun() {
	CycleOverrunsTotal.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
