package report

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for report generation.
type Metrics struct {
	Reports        *prometheus.CounterVec
	ReportDuration *prometheus.HistogramVec
	ChatRequests   *prometheus.CounterVec
}

// NewMetrics registers and returns report metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_reports_total",
			Help: "Reports served by format and outcome.",
		}, []string{"format", "outcome"}),
		ReportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aitriage_report_duration_seconds",
			Help:    "Time to serve a report in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~262s
		}, []string{"outcome"}),
		ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_chat_requests_total",
			Help: "Chat requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Reports, m.ReportDuration, m.ChatRequests)
	return m
}

func (m *Metrics) report(format, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Reports.WithLabelValues(format, outcome).Inc()
	m.ReportDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) chat(outcome string) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(outcome).Inc()
}
