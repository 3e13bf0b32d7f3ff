package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for alert ingestion and correlation.
type Metrics struct {
	AlertsTotal        *prometheus.CounterVec
	RejectedTotal      *prometheus.CounterVec
	IncidentsCreated   prometheus.Counter
	ImpactTransitions  *prometheus.CounterVec
	ResolutionUpdates  *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	IngestDuration     prometheus.Histogram
	AlertsPerIncident  prometheus.Histogram
	EventsDropped      prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_alerts_total",
			Help: "Normalized alerts by provider, signal type and result.",
		}, []string{"provider", "signal_type", "result"}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_alerts_rejected_total",
			Help: "Payloads rejected before correlation, by reason.",
		}, []string{"reason"}),
		IncidentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aitriage_incidents_created_total",
			Help: "Total incidents opened.",
		}),
		ImpactTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_impact_transitions_total",
			Help: "Impact changes by new impact level and classification.",
		}, []string{"impact", "classification"}),
		ResolutionUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_resolution_updates_total",
			Help: "Operator resolution updates by status.",
		}, []string{"status"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aitriage_notifications_total",
			Help: "Escalation notifications by outcome.",
		}, []string{"status"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aitriage_ingest_duration_seconds",
			Help:    "Duration of payload ingestion (normalize and correlate) in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us .. ~200ms
		}),
		AlertsPerIncident: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aitriage_alerts_per_incident",
			Help:    "Alert count of an incident observed on each attachment.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aitriage_events_dropped_total",
			Help: "Change notifications dropped for slow subscribers.",
		}),
	}

	reg.MustRegister(
		m.AlertsTotal,
		m.RejectedTotal,
		m.IncidentsCreated,
		m.ImpactTransitions,
		m.ResolutionUpdates,
		m.NotificationsTotal,
		m.IngestDuration,
		m.AlertsPerIncident,
		m.EventsDropped,
	)

	return m
}

func (m *Metrics) observeOutcome(out *Outcome, provider, signal string) {
	if m == nil {
		return
	}
	if out.Deduplicated {
		m.AlertsTotal.WithLabelValues(provider, signal, "deduplicated").Inc()
		return
	}
	m.AlertsTotal.WithLabelValues(provider, signal, "accepted").Inc()
	if out.Created {
		m.IncidentsCreated.Inc()
	}
	inc := out.Incident
	m.AlertsPerIncident.Observe(float64(len(inc.Alerts)))
	if inc.Impact.Impact != out.PreviousImpact {
		m.ImpactTransitions.WithLabelValues(string(inc.Impact.Impact), inc.Impact.Classification).Inc()
	}
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) resolution(status ResolutionStatus) {
	if m == nil {
		return
	}
	m.ResolutionUpdates.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) notification(status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ingestDuration(seconds float64) {
	if m == nil {
		return
	}
	m.IngestDuration.Observe(seconds)
}

// EventDropHook returns a callback for events.Broker.OnDrop.
func (m *Metrics) EventDropHook() func() {
	return func() { m.EventsDropped.Inc() }
}
