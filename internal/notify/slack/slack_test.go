package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/aitriage/internal/alert"
	"github.com/linnemanlabs/aitriage/internal/triage"
)

func ptr(v float64) *float64 { return &v }

func majorIncident() *triage.Incident {
	return &triage.Incident{
		ID:        "01JN123",
		Service:   "checkout",
		Env:       "prod",
		Status:    triage.StatusInvestigating,
		UpdatedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
		Alerts:    make([]alert.Event, 3),
		Signals: map[alert.SignalType]*triage.SignalSnapshot{
			alert.SignalSaturation: {SignalType: alert.SignalSaturation, State: triage.StateCritical, Trend: triage.TrendUp, Observed: ptr(97), Threshold: ptr(90)},
			alert.SignalErrors:     {SignalType: alert.SignalErrors, State: triage.StateCritical, Trend: triage.TrendUp, Observed: ptr(12), Threshold: ptr(5)},
		},
		Impact: triage.ImpactAssessment{
			Impact:         triage.ImpactMajor,
			Classification: triage.ClassOutage,
			Confidence:     0.9,
			Summary:        "Errors and saturation are critical.",
			Reasons:        []string{"errors critical", "saturation critical"},
		},
	}
}

func TestSend_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "https://triage.example.com/")
	if !n.Enabled() {
		t.Fatal("notifier with URL reports disabled")
	}
	if err := n.Send(context.Background(), majorIncident()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if fallback, _ := got["text"].(string); !strings.Contains(fallback, "major impact on checkout (prod): outage") {
		t.Errorf("fallback text = %q", fallback)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, fields, divider, summary, signals, context
	if len(blocks) != 6 {
		t.Fatalf("blocks count = %d, want 6", len(blocks))
	}

	var raw strings.Builder
	enc := json.NewEncoder(&raw)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(blocks)
	s := raw.String()
	for _, want := range []string{
		"Major impact: checkout (prod)",
		"*Classification:* outage",
		"*Confidence:* 0.90",
		"*Alerts:* 3",
		"errors critical",
		"incident 01JN123",
		"2026-02-26 14:23 UTC",
		"<https://triage.example.com/api/v1/incidents/01JN123|details>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("payload missing %q", want)
		}
	}

	// Tracked signals are listed in priority order.
	if strings.Index(s, "*errors*") > strings.Index(s, "*saturation*") {
		t.Error("errors should be listed before saturation")
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", "")
	if n.Enabled() {
		t.Error("notifier without URL reports enabled")
	}
	if err := n.Send(context.Background(), majorIncident()); err != nil {
		t.Fatalf("expected nil error for empty URL, got: %v", err)
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	err := New(srv.URL, "").Send(context.Background(), majorIncident())
	if err == nil {
		t.Fatal("expected error for non-OK status")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "invalid_token") {
		t.Errorf("error = %v", err)
	}
}

func TestBuildMessage_Minimal(t *testing.T) {
	t.Parallel()

	inc := &triage.Incident{ID: "x", Service: "api", Env: "dev", Impact: triage.ImpactAssessment{Impact: triage.ImpactNone}}
	msg := New("http://unused", "").buildMessage(inc)

	blocks := msg["blocks"].([]map[string]any)
	// No signals block and no link without a public URL.
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}
	raw, _ := json.Marshal(msg)
	if !strings.Contains(string(raw), "_No summary available._") {
		t.Error("expected placeholder summary")
	}
	if strings.Contains(string(raw), "details>") {
		t.Error("unexpected details link")
	}
}

func TestImpactEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level triage.ImpactLevel
		want  string
	}{
		{triage.ImpactMajor, "\U0001f534"},
		{triage.ImpactMinor, "\U0001f7e1"},
		{triage.ImpactNone, "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}
	for _, tt := range tests {
		if got := impactEmoji(tt.level); got != tt.want {
			t.Errorf("impactEmoji(%q) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	got := truncate(strings.Repeat("a", 20), 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate long = %q", got)
	}
}

func FuzzBuildMessage(f *testing.F) {
	f.Add("checkout", "prod", "summary", "outage", 0.9)
	f.Add("", "", "", "", 0.0)
	f.Add("svc\n", "env\x00", strings.Repeat("x", 5000), "<script>", -1.0)

	f.Fuzz(func(t *testing.T, service, env, summary, class string, confidence float64) {
		inc := &triage.Incident{
			ID:      "01JFUZZ",
			Service: service,
			Env:     env,
			Impact: triage.ImpactAssessment{
				Impact:         triage.ImpactMajor,
				Classification: class,
				Confidence:     confidence,
				Summary:        summary,
			},
		}
		msg := New("http://unused", "").buildMessage(inc)
		if _, err := json.Marshal(msg); err != nil {
			t.Fatalf("message not marshalable: %v", err)
		}
	})
}
