package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission outcomes used as the "outcome" label.
const (
	OutcomeAccepted    = "accepted"
	OutcomeSecurity    = "security_rejected"
	OutcomeRateLimited = "rate_limited"
	OutcomeInvalid     = "invalid"
	OutcomeNotFound    = "form_not_found"
	OutcomeFailed      = "failed"
)

// Metrics are the pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	threats     prometheus.Counter
	rateLimited *prometheus.CounterVec
	staged      prometheus.Counter
}

// NewMetrics registers the pipeline counters on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formgate_submissions_total",
				Help: "Submission attempts by outcome.",
			},
			[]string{"outcome"},
		),
		threats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formgate_file_threats_total",
			Help: "Files rejected by the threat scanner.",
		}),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "formgate_rate_limited_total",
				Help: "Attempts rejected by the rate limiter.",
			},
			[]string{"action"},
		),
		staged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formgate_staged_files_total",
			Help: "Files accepted into the quarantine area ahead of submission.",
		}),
	}
	for _, c := range []prometheus.Collector{m.submissions, m.threats, m.rateLimited, m.staged} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) submission(outcome string) {
	if m != nil {
		m.submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) threat() {
	if m != nil {
		m.threats.Inc()
	}
}

func (m *Metrics) rateLimit(action string) {
	if m != nil {
		m.rateLimited.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) stagedFile() {
	if m != nil {
		m.staged.Inc()
	}
}

func outcomeOf(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrSecurityRejection):
		return OutcomeSecurity
	case errors.As(err, &verr):
		return OutcomeInvalid
	case errors.Is(err, ErrFormNotFound):
		return OutcomeNotFound
	default:
		return OutcomeFailed
	}
}
