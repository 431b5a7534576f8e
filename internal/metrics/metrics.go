package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Audits reaching a terminal status
	AuditOutcome *prometheus.CounterVec

	// Duration of each orchestrator phase
	PhaseLatency *prometheus.HistogramVec

	// Provider attempts by provider and outcome
	ProviderAttempts *prometheus.CounterVec

	// Tokens consumed by AI analysis
	TokensUsed prometheus.Counter

	// Jobs claimed by the background workers
	JobsClaimed prometheus.Counter
}

// New registers the audit metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuditOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pageaudit_audits_total",
			Help: "Audits reaching a terminal status",
		}, []string{"status"}), // status: "completed", "failed"

		PhaseLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pageaudit_phase_duration_seconds",
			Help:    "Duration of audit pipeline phases",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60},
		}, []string{"phase"}),

		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pageaudit_provider_attempts_total",
			Help: "AI provider calls by provider and outcome",
		}, []string{"provider", "outcome"}), // outcome: "success" or an error kind

		TokensUsed: f.NewCounter(prometheus.CounterOpts{
			Name: "pageaudit_ai_tokens_total",
			Help: "Approximate tokens consumed by AI analysis",
		}),

		JobsClaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "pageaudit_jobs_claimed_total",
			Help: "Audit jobs claimed by background workers",
		}),
	}
}

func (m *Metrics) IncrementOutcome(status string) {
	if m != nil {
		m.AuditOutcome.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m != nil {
		m.PhaseLatency.WithLabelValues(phase).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementProviderAttempt(provider, outcome string) {
	if m != nil {
		m.ProviderAttempts.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) AddTokens(n int) {
	if m != nil && n > 0 {
		m.TokensUsed.Add(float64(n))
	}
}

func (m *Metrics) IncrementJobsClaimed() {
	if m != nil {
		m.JobsClaimed.Inc()
	}
}
