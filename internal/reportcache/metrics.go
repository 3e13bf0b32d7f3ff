package reportcache

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for report cache operations.
type Metrics struct {
	Ops *prometheus.CounterVec
}

// NewMetrics registers and returns report cache metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_report_cache_ops_total",
			Help: "Report cache operations by op (get, set, invalidate) and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.Ops)
	return m
}

func (m *Metrics) op(op, result string) {
	if m == nil {
		return
	}
	m.Ops.WithLabelValues(op, result).Inc()
}
