package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AnalysesTotal      *prometheus.CounterVec
	ClassifierFailures prometheus.Counter
	ClassifierLatency  prometheus.Histogram
	DetectionsTotal    *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	AlertsDispatched   *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		AnalysesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_analyses_total",
				Help: "Total number of analyzed transcriptions by verdict",
			},
			[]string{"verdict"},
		),

		ClassifierFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callguard_classifier_failures_total",
				Help: "Classifier calls that failed and fell back to a safe verdict",
			},
		),

		ClassifierLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callguard_classifier_latency_seconds",
				Help:    "Latency of remote classifier calls",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
		),

		DetectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_detections_total",
				Help: "Stored scam detections by severity",
			},
			[]string{"severity"},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callguard_sessions_active",
				Help: "Number of active monitoring sessions",
			},
		),

		AlertsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_alerts_total",
				Help: "Raised alerts by level",
			},
			[]string{"level"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AnalysesTotal,
		m.ClassifierFailures,
		m.ClassifierLatency,
		m.DetectionsTotal,
		m.ActiveSessions,
		m.AlertsDispatched,
	)

	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
	})
}

// RecordAnalysis counts one analyzed transcription
func (m *Metrics) RecordAnalysis(isScam bool) {
	if m == nil {
		return
	}
	verdict := "safe"
	if isScam {
		verdict = "scam"
	}
	m.AnalysesTotal.WithLabelValues(verdict).Inc()
}

// ObserveClassifier records a classifier call
func (m *Metrics) ObserveClassifier(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.ClassifierLatency.Observe(d.Seconds())
	if failed {
		m.ClassifierFailures.Inc()
	}
}

// RecordDetection counts a stored detection. severity is one of low, medium
// or high; anything else is counted as "unknown" to keep the label bounded.
func (m *Metrics) RecordDetection(severity string) {
	if m == nil {
		return
	}
	switch severity {
	case "low", "medium", "high":
	default:
		severity = "unknown"
	}
	m.DetectionsTotal.WithLabelValues(severity).Inc()
}

// RecordAlert counts a raised alert
func (m *Metrics) RecordAlert(level string) {
	if m == nil {
		return
	}
	m.AlertsDispatched.WithLabelValues(level).Inc()
}

// SetActiveSessions sets the active sessions gauge
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
