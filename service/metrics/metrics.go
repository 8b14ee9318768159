package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger node metrics
	ledgerCallsTotal     *prometheus.CounterVec
	ledgerCallDuration   *prometheus.HistogramVec
	ledgerRateLimitWaits *prometheus.CounterVec

	// Catalog metrics
	listingsIngestedTotal *prometheus.CounterVec
	catalogRefreshesTotal *prometheus.CounterVec
	catalogListings       prometheus.Gauge
	detailCacheLookups    *prometheus.CounterVec

	// Submission metrics
	submissionsTotal         *prometheus.CounterVec
	submissionDuration       *prometheus.HistogramVec
	confirmationWaitDuration *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec

	// Temporal metrics
	activityDuration *prometheus.HistogramVec
	rechecksTotal    *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		ledgerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_calls_total",
				Help: "Total number of ledger node calls by method and status",
			},
			[]string{"method", "status"},
		),
		ledgerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_call_duration_seconds",
				Help:    "Duration of ledger node calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		ledgerRateLimitWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rate_limit_waits_total",
				Help: "Total number of ledger calls delayed by the client-side rate limiter",
			},
			[]string{"method"},
		),

		listingsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_ingested_total",
				Help: "Total number of marketplace records ingested, by decode status",
			},
			[]string{"status"},
		),
		catalogRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_refreshes_total",
				Help: "Total number of catalog refreshes by outcome",
			},
			[]string{"outcome"},
		),
		catalogListings: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_listings",
				Help: "Number of listings in the current catalog snapshot",
			},
		),
		detailCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "item_detail_cache_lookups_total",
				Help: "Item detail cache lookups by result (hit or miss)",
			},
			[]string{"result"},
		),

		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submissions_total",
				Help: "Total number of write submissions by action and final state",
			},
			[]string{"action", "state", "failure_kind"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "submission_duration_seconds",
				Help:    "End-to-end duration of write submissions in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"action"},
		),
		confirmationWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirmation_wait_duration_seconds",
				Help:    "Time spent waiting for transaction confirmation in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "temporal_activity_duration_seconds",
				Help:    "Duration of Temporal activity executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"activity"},
		),
		rechecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submission_rechecks_total",
				Help: "Total number of finished submission rechecks by resolved state",
			},
			[]string{"state"},
		),
	}
}

// Ledger metric helpers

// RecordLedgerCall records a ledger node call with duration.
func (m *Metrics) RecordLedgerCall(method, status string, duration float64) {
	m.ledgerCallsTotal.WithLabelValues(method, status).Inc()
	m.ledgerCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordRateLimitWait records a call that had to wait for the rate limiter.
func (m *Metrics) RecordRateLimitWait(method string) {
	m.ledgerRateLimitWaits.WithLabelValues(method).Inc()
}

// Catalog metric helpers

// RecordIngest records decoded and dropped record counts of one ingest pass.
func (m *Metrics) RecordIngest(decoded, dropped int) {
	m.listingsIngestedTotal.WithLabelValues("decoded").Add(float64(decoded))
	m.listingsIngestedTotal.WithLabelValues("dropped").Add(float64(dropped))
}

// RecordCatalogRefresh records the outcome of a catalog refresh
// ("applied", "superseded" or "error").
func (m *Metrics) RecordCatalogRefresh(outcome string, listings int) {
	m.catalogRefreshesTotal.WithLabelValues(outcome).Inc()
	if outcome == "applied" {
		m.catalogListings.Set(float64(listings))
	}
}

// RecordDetailCacheLookup records an item detail cache hit or miss.
func (m *Metrics) RecordDetailCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.detailCacheLookups.WithLabelValues(result).Inc()
}

// Submission metric helpers

// RecordSubmission records a finished submission.
func (m *Metrics) RecordSubmission(action, state, failureKind string, duration float64) {
	m.submissionsTotal.WithLabelValues(action, state, failureKind).Inc()
	m.submissionDuration.WithLabelValues(action).Observe(duration)
}

// RecordConfirmationWait records how long a confirmation wait took.
func (m *Metrics) RecordConfirmationWait(status string, duration float64) {
	m.confirmationWaitDuration.WithLabelValues(status).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Temporal metric helpers

// RecordActivityDuration records how long a Temporal activity ran.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.activityDuration.WithLabelValues(activity).Observe(duration)
}

// RecordRecheck records a finished recheck and the state it resolved to.
func (m *Metrics) RecordRecheck(state string) {
	m.rechecksTotal.WithLabelValues(state).Inc()
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
