// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Retry metrics
	RetryAttempts  *prometheus.CounterVec
	RetryExhausted *prometheus.CounterVec

	// Upstream metrics
	UpstreamRequests *prometheus.CounterVec
	UpstreamLatency  *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
	RPCCallLatency   *prometheus.HistogramVec

	// Collection metrics
	PagesFetched   *prometheus.CounterVec
	RecordsSkipped *prometheus.CounterVec

	// Analysis metrics
	AdapterResults      *prometheus.CounterVec
	AggregationDuration prometheus.Histogram
	LLMCompletions      *prometheus.CounterVec
	ReportsSynthesized  *prometheus.CounterVec
	TradesSimulated     *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Session store metrics
	SessionStoreOps *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_analyst"
	}

	return &Metrics{
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of retried attempts by operation and failure class",
		}, []string{"operation", "class"}),
		RetryExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Total number of operations that ran out of attempts",
		}, []string{"operation", "class"}),

		UpstreamRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream HTTP requests by status",
		}, []string{"upstream", "status"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream"}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"upstream"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Solana RPC call latency by method",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		PagesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "pages_fetched_total",
			Help:      "Total number of pages fetched by the paginated collector",
		}, []string{"source"}),
		RecordsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "records_skipped_total",
			Help:      "Total number of malformed records skipped",
		}, []string{"source"}),

		AdapterResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "adapter_results_total",
			Help:      "Source adapter results by source and data source label",
		}, []string{"source", "outcome"}),
		AggregationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "aggregation_duration_seconds",
			Help:      "Wall time of one aggregation fan-out",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		LLMCompletions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "llm_completions_total",
			Help:      "LLM completion calls by outcome",
		}, []string{"outcome"}),
		ReportsSynthesized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "reports_synthesized_total",
			Help:      "Reports synthesized, labelled by whether fields were backfilled",
		}, []string{"backfilled"}),
		TradesSimulated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_simulated_total",
			Help:      "Simulated trade decisions by side",
		}, []string{"side"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by route and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		SessionStoreOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "store_operations_total",
			Help:      "Session store operations by backend, operation and result",
		}, []string{"backend", "operation", "result"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRetry increments the retry counter.
func RecordRetry(operation, class string) {
	DefaultMetrics.RetryAttempts.WithLabelValues(operation, class).Inc()
}

// RecordRetryExhausted records an operation that ran out of attempts.
func RecordRetryExhausted(operation, class string) {
	DefaultMetrics.RetryExhausted.WithLabelValues(operation, class).Inc()
}

// RecordUpstreamRequest records one upstream HTTP exchange.
func RecordUpstreamRequest(upstream string, status int, seconds float64) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	DefaultMetrics.UpstreamRequests.WithLabelValues(upstream, label).Inc()
	DefaultMetrics.UpstreamLatency.WithLabelValues(upstream).Observe(seconds)
}

// SetBreakerState updates the breaker gauge.
func SetBreakerState(upstream string, state int) {
	DefaultMetrics.BreakerState.WithLabelValues(upstream).Set(float64(state))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordPageFetched increments the collector page counter.
func RecordPageFetched(source string) {
	DefaultMetrics.PagesFetched.WithLabelValues(source).Inc()
}

// RecordSkippedRecords adds n malformed records.
func RecordSkippedRecords(source string, n int) {
	if n <= 0 {
		return
	}
	DefaultMetrics.RecordsSkipped.WithLabelValues(source).Add(float64(n))
}

// RecordAdapterResult records the final state of one adapter invocation.
func RecordAdapterResult(source, outcome string) {
	DefaultMetrics.AdapterResults.WithLabelValues(source, outcome).Inc()
}

// RecordAggregation records the duration of one aggregation.
func RecordAggregation(seconds float64) {
	DefaultMetrics.AggregationDuration.Observe(seconds)
}

// RecordLLMCompletion records an LLM call outcome.
func RecordLLMCompletion(outcome string) {
	DefaultMetrics.LLMCompletions.WithLabelValues(outcome).Inc()
}

// RecordReport records a synthesized report.
func RecordReport(backfilled bool) {
	DefaultMetrics.ReportsSynthesized.WithLabelValues(strconv.FormatBool(backfilled)).Inc()
}

// RecordTrade records a simulated trade decision.
func RecordTrade(side string) {
	DefaultMetrics.TradesSimulated.WithLabelValues(side).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(route, method string, status int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	DefaultMetrics.HTTPDuration.WithLabelValues(route).Observe(seconds)
}

// RecordSessionOp records a session store operation.
func RecordSessionOp(backend, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	DefaultMetrics.SessionStoreOps.WithLabelValues(backend, operation, result).Inc()
}
