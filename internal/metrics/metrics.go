package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sngm3741/emaily/api/internal/survey/application"
)

// Metrics holds all Prometheus metrics for the Emaily API.
// It implements application.Observer.
type Metrics struct {
	// Survey lifecycle
	SurveysCreatedTotal  prometheus.Counter
	SurveysRejectedTotal *prometheus.CounterVec
	DispatchDuration     *prometheus.HistogramVec
	CreditsDebitedTotal  prometheus.Counter

	// Webhook ingestion
	WebhookBatchesTotal prometheus.Counter
	WebhookEventsTotal  *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

var _ application.Observer = (*Metrics)(nil)

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SurveysCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "emaily_surveys_created_total",
				Help: "Total number of surveys dispatched and stored",
			},
		),
		SurveysRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaily_surveys_rejected_total",
				Help: "Total number of survey submissions rejected before storage",
			},
			[]string{"reason"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emaily_dispatch_duration_seconds",
				Help:    "Mail provider dispatch latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		CreditsDebitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "emaily_credits_debited_total",
				Help: "Total number of credits spent on surveys",
			},
		),
		WebhookBatchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "emaily_webhook_batches_total",
				Help: "Total number of webhook batches ingested",
			},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaily_webhook_events_total",
				Help: "Webhook events by processing outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emaily_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emaily_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.SurveysCreatedTotal,
		m.SurveysRejectedTotal,
		m.DispatchDuration,
		m.CreditsDebitedTotal,
		m.WebhookBatchesTotal,
		m.WebhookEventsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) SurveyCreated() {
	m.SurveysCreatedTotal.Inc()
}

func (m *Metrics) SurveyRejected(reason string) {
	m.SurveysRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) DispatchCompleted(elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.DispatchDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) CreditsDebited(n int) {
	m.CreditsDebitedTotal.Add(float64(n))
}

// ResponsesIngested records one batch. Events that never reached the store
// (no tracking link, or collapsed as duplicates) are counted as "ignored".
func (m *Metrics) ResponsesIngested(report application.IngestReport) {
	m.WebhookBatchesTotal.Inc()
	m.WebhookEventsTotal.WithLabelValues("applied").Add(float64(report.Applied))
	m.WebhookEventsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	m.WebhookEventsTotal.WithLabelValues("failed").Add(float64(report.Failed))
	if ignored := report.Received - report.Unique; ignored > 0 {
		m.WebhookEventsTotal.WithLabelValues("ignored").Add(float64(ignored))
	}
}
