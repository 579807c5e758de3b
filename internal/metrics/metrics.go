// Package metrics holds the Prometheus collectors for the settlement engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

type Metrics struct {
	registry *prometheus.Registry

	SessionTransitions  *prometheus.CounterVec
	TransitionConflicts *prometheus.CounterVec
	SweepOutcomes       *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	UploadRows          *prometheus.CounterVec
	UploadsRejected     *prometheus.CounterVec
	FraudAssessments    *prometheus.CounterVec
	AdvisoryCalls       *prometheus.CounterVec
	AdvisoryLatency     prometheus.Histogram
	AuditFailures       prometheus.Counter
	NotificationsSent   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "transitions_total",
			Help: "Verification session status transitions.",
		}, []string{"from", "to"}),
		TransitionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "conflicts_total",
			Help: "Conditional updates that lost a race.",
		}, []string{"operation"}),
		SweepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "sessions_total",
			Help: "Sessions resolved by the deadline sweep.",
		}, []string{"outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sweep", Name: "duration_seconds",
			Help:    "Deadline sweep pass duration.",
			Buckets: prometheus.DefBuckets,
		}),
		UploadRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upload", Name: "rows_total",
			Help: "Bulk upload rows by outcome.",
		}, []string{"outcome"}),
		UploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upload", Name: "rejected_total",
			Help: "Bulk uploads rejected before any row was applied.",
		}, []string{"code"}),
		FraudAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fraud", Name: "assessments_total",
			Help: "Fraud assessments by recommendation and source.",
		}, []string{"recommendation", "source"}),
		AdvisoryCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fraud", Name: "advisory_calls_total",
			Help: "External advisory calls by result.",
		}, []string{"result"}),
		AdvisoryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "fraud", Name: "advisory_duration_seconds",
			Help:    "External advisory call latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "write_failures_total",
			Help: "Audit events that could not be persisted.",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notification", Name: "dispatched_total",
			Help: "Notifications by type and result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(
		m.SessionTransitions, m.TransitionConflicts, m.SweepOutcomes, m.SweepDuration,
		m.UploadRows, m.UploadsRejected, m.FraudAssessments, m.AdvisoryCalls,
		m.AdvisoryLatency, m.AuditFailures, m.NotificationsSent,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Conflict(operation string) {
	if m == nil {
		return
	}
	m.TransitionConflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) Swept(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweepOutcomes.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
}

func (m *Metrics) UploadRow(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.UploadRows.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) UploadRejected(code string) {
	if m == nil {
		return
	}
	m.UploadsRejected.WithLabelValues(code).Inc()
}

func (m *Metrics) Assessment(recommendation, source string) {
	if m == nil {
		return
	}
	m.FraudAssessments.WithLabelValues(recommendation, source).Inc()
}

func (m *Metrics) Advisory(result string, seconds float64) {
	if m == nil {
		return
	}
	m.AdvisoryCalls.WithLabelValues(result).Inc()
	m.AdvisoryLatency.Observe(seconds)
}

func (m *Metrics) AuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

func (m *Metrics) Notification(kind, result string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(kind, result).Inc()
}
