package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for quota decisions.
type Metrics struct {
	Decisions *prometheus.CounterVec
	Resets    prometheus.Counter
}

// NewMetrics registers and returns rate limit metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_ratelimit_decisions_total",
			Help: "Narrative quota decisions by result (allowed, denied, degraded).",
		}, []string{"result"}),
		Resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aitriage_ratelimit_resets_total",
			Help: "Admin quota resets.",
		}),
	}
	reg.MustRegister(m.Decisions, m.Resets)
	return m
}

func (m *Metrics) decision(result string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(result).Inc()
}

func (m *Metrics) reset() {
	if m == nil {
		return
	}
	m.Resets.Inc()
}
