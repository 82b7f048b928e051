// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Poller metrics
	PollRunsTotal        *prometheus.CounterVec
	PollDuration         prometheus.Histogram
	TickersFetched       prometheus.Gauge
	PricesUpserted       prometheus.Counter
	PricesPruned         prometheus.Counter
	UpstreamErrors       *prometheus.CounterVec
	LastSuccessfulPoll   prometheus.Gauge

	// Ledger metrics
	LedgerOperations      *prometheus.CounterVec
	LedgerOperationLatency *prometheus.HistogramVec
	EventPublishErrors    prometheus.Counter

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "crypto_ledger"
	}
	f := promauto.With(reg)

	return &Metrics{
		PollRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "runs_total",
			Help:      "Total number of poll cycles by status",
		}, []string{"status"}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		TickersFetched: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "tickers_fetched",
			Help:      "Number of instruments in the last fetched snapshot",
		}),
		PricesUpserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "prices_upserted_total",
			Help:      "Total number of price rows written",
		}),
		PricesPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "prices_pruned_total",
			Help:      "Total number of stale price rows deleted",
		}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "errors_total",
			Help:      "Total number of upstream fetch errors by stage",
		}, []string{"stage"}),
		LastSuccessfulPoll: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of last successful poll",
		}),

		LedgerOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by type and outcome",
		}, []string{"operation", "outcome"}),
		LedgerOperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_latency_seconds",
			Help:      "Ledger operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		EventPublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "event_publish_errors_total",
			Help:      "Total number of trade events that could not be published",
		}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of price cache lookups by result",
		}, []string{"result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordPollRun records a finished poll cycle.
func RecordPollRun(status string, durationSeconds float64) {
	DefaultMetrics.PollRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.PollDuration.Observe(durationSeconds)
}

// RecordPollSuccess records the outcome of a committed poll.
func RecordPollSuccess(fetched, upserted int, pruned int64, unixSeconds float64) {
	DefaultMetrics.TickersFetched.Set(float64(fetched))
	DefaultMetrics.PricesUpserted.Add(float64(upserted))
	DefaultMetrics.PricesPruned.Add(float64(pruned))
	DefaultMetrics.LastSuccessfulPoll.Set(unixSeconds)
}

// RecordUpstreamError records a failed upstream fetch.
func RecordUpstreamError(stage string) {
	DefaultMetrics.UpstreamErrors.WithLabelValues(stage).Inc()
}

// RecordLedgerOperation records a buy or sell with its outcome.
func RecordLedgerOperation(operation, outcome string, seconds float64) {
	DefaultMetrics.LedgerOperations.WithLabelValues(operation, outcome).Inc()
	DefaultMetrics.LedgerOperationLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordEventPublishError records a trade event that was not delivered.
func RecordEventPublishError() {
	DefaultMetrics.EventPublishErrors.Inc()
}

// RecordCacheLookup records a cache hit, miss or error.
func RecordCacheLookup(result string) {
	DefaultMetrics.CacheLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method, route, status string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(method, route, status).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
