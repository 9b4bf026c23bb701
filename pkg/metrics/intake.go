package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// IntakeMetrics counts draft, upload and finalization traffic.
type IntakeMetrics struct {
	drafts        *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	finalizations *prometheus.CounterVec
	requests      *prometheus.HistogramVec
}

// NewIntakeMetrics registers the intake metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	if reg == nil {
		return &IntakeMetrics{}
	}
	drafts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_draft_operations_total",
		Help: "Draft session operations by action and outcome.",
	}, []string{"action", "outcome"})
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_attachment_uploads_total",
		Help: "Participant attachment uploads by backend and outcome.",
	}, []string{"backend", "outcome"})
	finalizations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_finalizations_total",
		Help: "CRM finalization attempts by outcome.",
	}, []string{"outcome"})
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intake_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern, method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
	reg.MustRegister(drafts, uploads, finalizations, requests)
	return &IntakeMetrics{
		drafts:        drafts,
		uploads:       uploads,
		finalizations: finalizations,
		requests:      requests,
	}
}

func (m *IntakeMetrics) DraftOperation(action, outcome string) {
	if m == nil || m.drafts == nil {
		return
	}
	m.drafts.WithLabelValues(normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

func (m *IntakeMetrics) Upload(backend, outcome string) {
	if m == nil || m.uploads == nil {
		return
	}
	m.uploads.WithLabelValues(normalizeLabel(backend), normalizeLabel(outcome)).Inc()
}

func (m *IntakeMetrics) Finalization(outcome string) {
	if m == nil || m.finalizations == nil {
		return
	}
	m.finalizations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveRequest records one HTTP request against its chi route pattern.
func (m *IntakeMetrics) ObserveRequest(route, method, status string, duration time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(route), method, status).Observe(duration.Seconds())
}
