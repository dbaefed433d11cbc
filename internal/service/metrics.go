package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
// A nil *Metrics disables recording.
type Metrics struct {
	EvaluationsTotal    *prometheus.CounterVec
	RiskScore           prometheus.Histogram
	IdempotentReplays   prometheus.Counter
	PolicyParseFailures prometheus.Counter
	ApprovalsCreated    prometheus.Counter
	ApprovalResolutions *prometheus.CounterVec
	ApprovalWaits       *prometheus.CounterVec
	ApprovalWaitSeconds prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		EvaluationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentshield",
				Name:      "evaluations_total",
				Help:      "Total evaluations stored, by decision",
			},
			[]string{"decision"},
		),
		RiskScore: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agentshield",
				Name:      "risk_score",
				Help:      "Distribution of computed risk scores",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
		),
		IdempotentReplays: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentshield",
				Name:      "idempotent_replays_total",
				Help:      "Evaluations answered from a stored result",
			},
		),
		PolicyParseFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentshield",
				Name:      "policy_parse_failures_total",
				Help:      "Stored policies skipped because their document failed to parse",
			},
		),
		ApprovalsCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentshield",
				Name:      "approvals_created_total",
				Help:      "Approval requests created",
			},
		),
		ApprovalResolutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentshield",
				Name:      "approval_resolutions_total",
				Help:      "Approval resolution attempts, by outcome",
			},
			[]string{"status"}, // APPROVED, DENIED, conflict
		),
		ApprovalWaits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentshield",
				Name:      "approval_waits_total",
				Help:      "Synchronous approval waits, by outcome",
			},
			[]string{"outcome"}, // resolved, timeout, abandoned
		),
		ApprovalWaitSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "agentshield",
				Name:      "approval_wait_seconds",
				Help:      "Time spent in synchronous approval waits",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
			},
		),
	}
}

func (m *Metrics) evaluation(decision string, score int) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(decision).Inc()
	m.RiskScore.Observe(float64(score))
}

func (m *Metrics) replay() {
	if m == nil {
		return
	}
	m.IdempotentReplays.Inc()
}

func (m *Metrics) parseFailure() {
	if m == nil {
		return
	}
	m.PolicyParseFailures.Inc()
}

func (m *Metrics) approvalCreated() {
	if m == nil {
		return
	}
	m.ApprovalsCreated.Inc()
}

func (m *Metrics) resolution(outcome string) {
	if m == nil {
		return
	}
	m.ApprovalResolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) wait(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ApprovalWaits.WithLabelValues(outcome).Inc()
	m.ApprovalWaitSeconds.Observe(seconds)
}
