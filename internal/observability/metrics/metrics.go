// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_console"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter

	// Orchestrator action metrics
	Actions          *prometheus.CounterVec
	ValidationErrors *prometheus.CounterVec

	// Backend call metrics
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec

	// Upload metrics
	UploadBytes prometheus.Counter

	// Analytics publish metrics
	AnalyticsPublishTotal   *prometheus.CounterVec
	AnalyticsPublishErrors  *prometheus.CounterVec
	AnalyticsPublishLatency *prometheus.HistogramVec

	// Console HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	RenderErrors prometheus.Counter
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates and registers all Prometheus metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live client sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of client sessions created",
		}),
		SessionsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of sessions evicted after idling",
		}),

		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Orchestrator actions by operation and outcome",
		}, []string{"operation", "outcome"}),
		ValidationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Actions rejected locally before any backend call",
		}, []string{"operation"}),

		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend requests by endpoint and result class",
		}, []string{"endpoint", "result"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Backend round trip latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"endpoint"}),

		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total audio bytes staged by users",
		}),

		AnalyticsPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_publish_total",
			Help:      "Total number of analytics events published",
		}, []string{"sink", "event"}),
		AnalyticsPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_publish_errors_total",
			Help:      "Total number of swallowed analytics publish errors",
		}, []string{"sink", "event"}),
		AnalyticsPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analytics_publish_latency_seconds",
			Help:      "Analytics publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"sink"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Console HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Console HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		RenderErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_errors_total",
			Help:      "Analysis markdown that failed to render",
		}),
	}
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnded records a session leaving the store. evicted is true for
// idle expiry, false for an explicit reset.
func (m *Metrics) RecordSessionEnded(evicted bool) {
	m.SessionsActive.Dec()
	if evicted {
		m.SessionsEvicted.Inc()
	}
}

// RecordAction records the outcome of an orchestrator operation.
func (m *Metrics) RecordAction(operation, outcome string) {
	m.Actions.WithLabelValues(operation, outcome).Inc()
	if outcome == "invalid" {
		m.ValidationErrors.WithLabelValues(operation).Inc()
	}
}

// RecordBackendCall records one backend round trip.
func (m *Metrics) RecordBackendCall(endpoint, result string, latencySeconds float64) {
	m.BackendRequests.WithLabelValues(endpoint, result).Inc()
	m.BackendLatency.WithLabelValues(endpoint).Observe(latencySeconds)
}

// RecordUpload records staged audio bytes.
func (m *Metrics) RecordUpload(bytes int) {
	m.UploadBytes.Add(float64(bytes))
}

// RecordAnalyticsPublish records an analytics publish attempt.
func (m *Metrics) RecordAnalyticsPublish(sink, event string, err error, latencySeconds float64) {
	m.AnalyticsPublishTotal.WithLabelValues(sink, event).Inc()
	m.AnalyticsPublishLatency.WithLabelValues(sink).Observe(latencySeconds)
	if err != nil {
		m.AnalyticsPublishErrors.WithLabelValues(sink, event).Inc()
	}
}

// RecordHTTPRequest records a console HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, status int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(durationSeconds)
}

// RecordRenderError records a markdown rendering failure.
func (m *Metrics) RecordRenderError() {
	m.RenderErrors.Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
