package triage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/aitriage/internal/alert"
	"github.com/linnemanlabs/aitriage/internal/events"
	"github.com/linnemanlabs/aitriage/internal/normalize"
	"github.com/linnemanlabs/aitriage/internal/scenarios"
)

type mockCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (m *mockCache) InvalidateIncident(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, id)
}

func (m *mockCache) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invalidated)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *mockPublisher) Publish(ev events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockPublisher) countType(typ events.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type mockNotifier struct {
	sent chan *Incident
	err  error
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{sent: make(chan *Incident, 8)}
}

func (m *mockNotifier) Send(ctx context.Context, inc *Incident) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.sent <- inc
	return m.err
}

type serviceFixture struct {
	svc      *Service
	cache    *mockCache
	pub      *mockPublisher
	notifier *mockNotifier
	metrics  *Metrics
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		cache:    &mockCache{},
		pub:      &mockPublisher{},
		notifier: newMockNotifier(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewService(ServiceDeps{
		Normalizer: normalize.New(),
		Correlator: NewCorrelator(DefaultCorrelatorConfig(), NewStore()),
		Cache:      f.cache,
		Events:     f.pub,
		Notifier:   f.notifier,
		Metrics:    f.metrics,
		Logger:     log.Nop(),
	})
	return f
}

func genericPayload(service, metric string, observed, threshold float64) map[string]any {
	return map[string]any{
		"service":   service,
		"env":       "prod",
		"name":      metric,
		"metric":    metric,
		"observed":  observed,
		"threshold": threshold,
		"severity":  "warning",
	}
}

func TestNewService_RequiresDeps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		deps ServiceDeps
	}{
		{"no normalizer", ServiceDeps{Correlator: NewCorrelator(DefaultCorrelatorConfig(), NewStore())}},
		{"no correlator", ServiceDeps{Normalizer: normalize.New()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			NewService(tt.deps)
		})
	}
}

func TestIngest_AcceptsAndNotifiesObservers(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, "generic", genericPayload("checkout", "p99_latency_ms", 100, 400))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Accepted != 1 || res.Deduplicated != 0 {
		t.Errorf("accepted=%d deduplicated=%d", res.Accepted, res.Deduplicated)
	}
	if len(res.IncidentIDs) != 1 || len(res.Incidents) != 1 {
		t.Fatalf("incidents = %v", res.IncidentIDs)
	}
	if f.cache.count() != 1 {
		t.Errorf("invalidations = %d, want 1", f.cache.count())
	}
	if f.pub.countType(events.TypeAlertIngested) != 1 || f.pub.countType(events.TypeIncidentUpdated) != 1 {
		t.Errorf("events = %+v", f.pub.events)
	}

	inc, ok := f.svc.Get(ctx, res.IncidentIDs[0])
	if !ok {
		t.Fatal("incident not found")
	}
	if inc.Alerts[0].SignalType != "latency" {
		t.Errorf("signal type = %q, want latency", inc.Alerts[0].SignalType)
	}
}

func TestIngest_Duplicate(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	ctx := context.Background()
	payload := genericPayload("checkout", "http_5xx_rate", 0.2, 1)

	// generic payloads are never detected from shape
	if _, err := f.svc.Ingest(ctx, "", payload); !errors.Is(err, normalize.ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}

	if _, err := f.svc.Ingest(ctx, "generic", payload); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	res, err := f.svc.Ingest(ctx, "generic", payload)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Accepted != 0 || res.Deduplicated != 1 || len(res.IncidentIDs) != 0 {
		t.Errorf("got %+v, want one deduplicated", res)
	}
	if f.cache.count() != 1 {
		t.Errorf("invalidations = %d, want 1", f.cache.count())
	}
	if got := testutil.ToFloat64(f.metrics.AlertsTotal.WithLabelValues("generic", "errors", "deduplicated")); got != 1 {
		t.Errorf("deduplicated metric = %v, want 1", got)
	}
}

func TestIngest_Errors(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	ctx := context.Background()

	if _, err := f.svc.Ingest(ctx, "pagerduty", map[string]any{}); !errors.Is(err, normalize.ErrUnsupportedProvider) {
		t.Errorf("err = %v, want ErrUnsupportedProvider", err)
	}

	_, err := f.svc.Ingest(ctx, "generic", map[string]any{"name": "x", "env": "prod"})
	var ve *normalize.ValidationError
	if !errors.As(err, &ve) || ve.Field != "service" {
		t.Errorf("err = %v, want ValidationError on service", err)
	}

	if got := testutil.ToFloat64(f.metrics.RejectedTotal.WithLabelValues("validation")); got != 1 {
		t.Errorf("validation rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.RejectedTotal.WithLabelValues("unsupported_provider")); got < 1 {
		t.Errorf("unsupported rejections = %v, want >= 1", got)
	}
}

func TestRunScenario_SaturationOnly(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	res, err := f.svc.RunScenario(context.Background(), "saturation_only", "", "")
	if err != nil {
		t.Fatalf("RunScenario: %v", err)
	}
	if res.Accepted != 3 {
		t.Errorf("accepted = %d, want 3", res.Accepted)
	}
	if len(res.Incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(res.Incidents))
	}

	sum := res.Incidents[0]
	if sum.Service != scenarios.DefaultService || sum.Env != scenarios.DefaultEnv {
		t.Errorf("target = %s/%s", sum.Service, sum.Env)
	}
	if sum.Impact.Impact != ImpactNone || sum.Impact.Classification != ClassCapacityWarning {
		t.Errorf("impact = %q/%q, want none/capacity_warning", sum.Impact.Impact, sum.Impact.Classification)
	}
	if sum.AlertCount != 3 {
		t.Errorf("alert count = %d, want 3", sum.AlertCount)
	}

	select {
	case inc := <-f.notifier.sent:
		t.Errorf("unexpected escalation for %s", inc.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunScenario_FullOutageEscalatesOnce(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	res, err := f.svc.RunScenario(context.Background(), "full_outage", "payments", "prod")
	if err != nil {
		t.Fatalf("RunScenario: %v", err)
	}
	if len(res.Incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(res.Incidents))
	}
	sum := res.Incidents[0]
	if sum.Impact.Impact != ImpactMajor || sum.Impact.Classification != ClassOutage {
		t.Errorf("impact = %q/%q, want major/outage", sum.Impact.Impact, sum.Impact.Classification)
	}
	if sum.Status != StatusInvestigating {
		t.Errorf("status = %q, want investigating", sum.Status)
	}

	select {
	case inc := <-f.notifier.sent:
		if inc.Service != "payments" {
			t.Errorf("notified service = %q", inc.Service)
		}
	case <-time.After(time.Second):
		t.Fatal("expected escalation notification")
	}
	select {
	case <-f.notifier.sent:
		t.Error("escalation sent more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunScenario_Unknown(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	if _, err := f.svc.RunScenario(context.Background(), "nope", "", ""); !errors.Is(err, scenarios.ErrUnknownScenario) {
		t.Errorf("err = %v, want ErrUnknownScenario", err)
	}
}

func TestEscalate_SurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.svc.Ingest(ctx, "generic", genericPayload("checkout", "http_error_rate", 9, 1))
	cancel()
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	select {
	case <-f.notifier.sent:
	case <-time.After(time.Second):
		t.Fatal("notification aborted by caller cancellation")
	}
}

func TestUpdateResolution_InvalidatesAndPublishes(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	ctx := context.Background()

	res, err := f.svc.Ingest(ctx, "generic", genericPayload("checkout", "cpu_utilization", 99, 95))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	id := res.IncidentIDs[0]

	inc, err := f.svc.UpdateResolution(ctx, id, ResolutionResolved, "scaled out")
	if err != nil {
		t.Fatalf("UpdateResolution: %v", err)
	}
	if inc.Status != StatusResolved {
		t.Errorf("status = %q, want resolved", inc.Status)
	}
	if f.cache.count() != 2 {
		t.Errorf("invalidations = %d, want 2", f.cache.count())
	}
	if f.pub.countType(events.TypeIncidentUpdated) != 2 {
		t.Errorf("incident_updated events = %d, want 2", f.pub.countType(events.TypeIncidentUpdated))
	}
	if got := testutil.ToFloat64(f.metrics.ResolutionUpdates.WithLabelValues("resolved")); got != 1 {
		t.Errorf("resolution metric = %v, want 1", got)
	}

	if _, err := f.svc.UpdateResolution(ctx, "missing", ResolutionResolved, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList_Summaries(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	ctx := context.Background()

	for _, svc := range []string{"a", "b", "c"} {
		if _, err := f.svc.Ingest(ctx, "generic", genericPayload(svc, "p99_latency", 10, 400)); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	if got := f.svc.List(ctx, 0); len(got) != 3 {
		t.Errorf("List(0) = %d, want 3", len(got))
	}
	if got := f.svc.List(ctx, 2); len(got) != 2 {
		t.Errorf("List(2) = %d, want 2", len(got))
	}

	for _, sum := range f.svc.List(ctx, 0) {
		snap, ok := sum.Signals[alert.SignalLatency]
		if !ok {
			t.Errorf("%s: signals = %v, want latency", sum.Service, sum.Signals)
			continue
		}
		if snap.Observed == nil || *snap.Observed != 10 {
			t.Errorf("%s: latency observed = %v, want 10", sum.Service, snap.Observed)
		}
		if sum.AlertCount != 1 {
			t.Errorf("%s: alert count = %d, want 1", sum.Service, sum.AlertCount)
		}
	}
}

func TestSummarize_DetachedFromIncident(t *testing.T) {
	t.Parallel()

	inc := &Incident{
		ID: "inc-1",
		Signals: map[alert.SignalType]*SignalSnapshot{
			alert.SignalErrors: {SignalType: alert.SignalErrors, State: StateCritical, History: []float64{1, 2}},
		},
	}
	sum := inc.Summarize()
	sum.Signals[alert.SignalErrors].History[0] = 99
	sum.Signals[alert.SignalErrors].State = StateOK

	if got := inc.Signals[alert.SignalErrors]; got.History[0] != 1 || got.State != StateCritical {
		t.Errorf("incident snapshot changed through summary: %+v", got)
	}
}

func TestIngest_ServiceCaseSeparatesIncidents(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, "generic", genericPayload("Checkout", "http_5xx_rate", 0.2, 1))
	if err != nil {
		t.Fatalf("Ingest Checkout: %v", err)
	}
	second, err := f.svc.Ingest(ctx, "generic", genericPayload("checkout", "http_5xx_rate", 0.2, 1))
	if err != nil {
		t.Fatalf("Ingest checkout: %v", err)
	}
	if first.Accepted != 1 || second.Accepted != 1 || second.Deduplicated != 0 {
		t.Fatalf("first=%+v second=%+v, want both accepted", first, second)
	}
	if first.IncidentIDs[0] == second.IncidentIDs[0] {
		t.Error("differently cased services were grouped together")
	}
	if got := len(f.svc.List(ctx, 0)); got != 2 {
		t.Errorf("incidents = %d, want 2", got)
	}
}

func TestIngest_PrometheusRecoveryResolves(t *testing.T) {
	t.Parallel()

	f := newServiceFixture()
	ctx := context.Background()
	payload := func(status string) map[string]any {
		return map[string]any{"alerts": []any{map[string]any{
			"status": status,
			"labels": map[string]any{
				"alertname": "HighErrorRate", "service": "checkout", "env": "prod",
				"severity": "critical", "signal_type": "errors",
			},
			"annotations": map[string]any{"summary": "5xx above 5%", "observed": "0.12", "threshold": "0.05"},
		}}}
	}

	firing, err := f.svc.Ingest(ctx, "prometheus", payload("firing"))
	if err != nil {
		t.Fatalf("Ingest firing: %v", err)
	}
	inc, _ := f.svc.Get(ctx, firing.IncidentIDs[0])
	if inc.Impact.Impact != ImpactMajor || inc.Status != StatusInvestigating {
		t.Fatalf("after firing: impact=%s status=%s", inc.Impact.Impact, inc.Status)
	}

	resolved, err := f.svc.Ingest(ctx, "prometheus", payload("resolved"))
	if err != nil {
		t.Fatalf("Ingest resolved: %v", err)
	}
	if resolved.Accepted != 1 || resolved.IncidentIDs[0] != inc.ID {
		t.Fatalf("resolved = %+v, want attached to %s", resolved, inc.ID)
	}
	inc, _ = f.svc.Get(ctx, inc.ID)
	if inc.Impact.Classification != ClassStable || inc.Status != StatusResolved {
		t.Errorf("after recovery: class=%s status=%s, want stable/resolved", inc.Impact.Classification, inc.Status)
	}
}
