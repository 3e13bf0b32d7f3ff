// Package normalize maps provider-specific alert payloads into alert.Event.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aitriage/internal/alert"
)

// ErrUnsupportedProvider is returned when the provider hint is unknown or the
// payload shape matches no known provider.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// ValidationError reports a payload that is missing a required field.
type ValidationError struct {
	Provider alert.Provider
	Field    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s payload: missing required field %q", e.Provider, e.Field)
}

type strategy func(n *Normalizer, payload map[string]any) ([]alert.Event, error)

// Normalizer converts raw payloads into canonical alert events.
type Normalizer struct {
	strategies map[alert.Provider]strategy
	now        func() time.Time
	newID      func() string
}

// New returns a Normalizer with the built-in provider strategies.
func New() *Normalizer {
	return &Normalizer{
		strategies: map[alert.Provider]strategy{
			alert.ProviderPrometheus:  normalizePrometheus,
			alert.ProviderDatadog:     normalizeDatadog,
			alert.ProviderBetterstack: normalizeBetterstack,
			alert.ProviderGeneric:     normalizeGeneric,
		},
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
	}
}

// ParseProvider validates a provider hint. An empty hint means "detect".
func ParseProvider(hint string) (alert.Provider, error) {
	switch p := alert.Provider(strings.ToLower(strings.TrimSpace(hint))); p {
	case "":
		return "", nil
	case alert.ProviderPrometheus, alert.ProviderDatadog, alert.ProviderBetterstack, alert.ProviderGeneric:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, hint)
	}
}

// Detect infers the provider from the payload shape. Generic payloads are
// never inferred; they must be requested explicitly.
func Detect(payload map[string]any) (alert.Provider, bool) {
	if _, ok := payload["alerts"].([]any); ok {
		return alert.ProviderPrometheus, true
	}
	_, hasEventType := payload["event_type"]
	_, hasAlertType := payload["alert_type"]
	if hasEventType && hasAlertType {
		return alert.ProviderDatadog, true
	}
	if _, ok := payload["incident"]; ok {
		return alert.ProviderBetterstack, true
	}
	if src, ok := payload["source"].(string); ok && strings.Contains(strings.ToLower(src), "betterstack") {
		return alert.ProviderBetterstack, true
	}
	return "", false
}

// Normalize converts payload into one or more events. A zero provider means
// the provider is detected from the payload.
func (n *Normalizer) Normalize(p alert.Provider, payload map[string]any) ([]alert.Event, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrUnsupportedProvider)
	}
	if p == "" {
		detected, ok := Detect(payload)
		if !ok {
			return nil, fmt.Errorf("%w: unrecognized payload shape", ErrUnsupportedProvider)
		}
		p = detected
	}
	fn, ok := n.strategies[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, p)
	}
	return fn(n, payload)
}

// build fills the derived fields and checks required ones.
func (n *Normalizer) build(ev alert.Event) (alert.Event, error) {
	ev.Service = strings.TrimSpace(ev.Service)
	ev.Env = strings.TrimSpace(ev.Env)
	if ev.Service == "" {
		return alert.Event{}, &ValidationError{Provider: ev.Provider, Field: "service"}
	}
	if ev.Env == "" {
		return alert.Event{}, &ValidationError{Provider: ev.Provider, Field: "env"}
	}
	ev.ID = n.newID()
	ev.ReceivedAt = n.now().UTC()
	if ev.Message == "" {
		ev.Message = ev.Name
	}
	ev.Fingerprint = alert.Fingerprint(ev.Provider, ev.Service, ev.Env, ev.SignalType, ev.Metric, ev.Message)
	return ev, nil
}

func normalizePrometheus(n *Normalizer, payload map[string]any) ([]alert.Event, error) {
	items, _ := payload["alerts"].([]any)
	out := make([]alert.Event, 0, len(items))
	for _, item := range items {
		a, ok := item.(map[string]any)
		if !ok {
			continue
		}
		labels := stringMap(a["labels"])
		annotations := stringMap(a["annotations"])

		name := first(labels["alertname"], annotations["title"], "prometheus_alert")
		metric := first(labels["metric"], annotations["metric"], labels["alertname"])

		ev := alert.Event{
			Provider:    alert.ProviderPrometheus,
			StartsAt:    parseTime(a["startsAt"]),
			Service:     first(labels["service"], labels["app"], labels["job"], labels["component"]),
			Env:         first(labels["env"], labels["environment"]),
			Severity:    ParseSeverity(first(labels["severity"], annotations["severity"])),
			SignalType:  InferSignal(name+" "+metric, labels, annotations),
			Name:        name,
			Metric:      metric,
			Observed:    parseFloat(first(annotations["observed"], labels["observed"])),
			Threshold:   parseFloat(first(annotations["threshold"], labels["threshold"])),
			Unit:        first(annotations["unit"], labels["unit"]),
			Message:     first(annotations["summary"], annotations["description"], name),
			Labels:      labels,
			Annotations: annotations,
			SourceURL:   str(a["generatorURL"]),
		}
		// A resolved alert reports recovery: it carries no reading and a
		// message of its own so it is not deduplicated against the firing one.
		if strings.EqualFold(str(a["status"]), "resolved") {
			ev.Severity = alert.SeverityInfo
			ev.Observed = nil
			ev.Message = "resolved: " + ev.Message
		}
		ev, err := n.build(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func normalizeDatadog(n *Normalizer, payload map[string]any) ([]alert.Event, error) {
	tags := tagMap(payload["tags"])
	title := first(str(payload["title"]), str(payload["event_title"]), "datadog_alert")
	labels := map[string]string{"title": title}
	for k, v := range tags {
		labels[k] = v
	}
	annotations := map[string]string{}
	if text := first(str(payload["text"]), str(payload["message"])); text != "" {
		annotations["text"] = text
	}
	metric := str(payload["metric"])

	ev, err := n.build(alert.Event{
		Provider:    alert.ProviderDatadog,
		StartsAt:    parseTime(first(str(payload["date"]), str(payload["triggered_at"]))),
		Service:     first(str(payload["service"]), tags["service"]),
		Env:         first(tags["env"], tags["environment"], str(payload["env"])),
		Severity:    ParseSeverity(first(str(payload["alert_type"]), str(payload["severity"]))),
		SignalType:  InferSignal(title+" "+metric, labels, annotations),
		Name:        title,
		Metric:      metric,
		Observed:    parseFloat(payload["observed"]),
		Threshold:   parseFloat(payload["threshold"]),
		Unit:        str(payload["unit"]),
		Message:     title,
		Labels:      labels,
		Annotations: annotations,
		SourceURL:   str(payload["url"]),
	})
	if err != nil {
		return nil, err
	}
	return []alert.Event{ev}, nil
}

func normalizeBetterstack(n *Normalizer, payload map[string]any) ([]alert.Event, error) {
	inc, ok := payload["incident"].(map[string]any)
	if !ok {
		inc = payload
	}
	labels := stringMap(inc["labels"])
	annotations := stringMap(inc["annotations"])
	name := first(str(inc["name"]), str(inc["title"]), "betterstack_incident")
	metric := str(inc["metric"])

	observed := parseFloat(inc["observed"])
	if observed == nil {
		observed = parseFloat(annotations["observed"])
	}
	threshold := parseFloat(inc["threshold"])
	if threshold == nil {
		threshold = parseFloat(annotations["threshold"])
	}

	ev, err := n.build(alert.Event{
		Provider:    alert.ProviderBetterstack,
		StartsAt:    parseTime(first(str(inc["started_at"]), str(inc["startedAt"]))),
		Service:     first(str(inc["service"]), labels["service"]),
		Env:         first(str(inc["env"]), labels["env"], labels["environment"]),
		Severity:    ParseSeverity(first(str(inc["severity"]), str(inc["status"]))),
		SignalType:  InferSignal(name+" "+metric, labels, annotations),
		Name:        name,
		Metric:      metric,
		Observed:    observed,
		Threshold:   threshold,
		Unit:        first(str(inc["unit"]), annotations["unit"]),
		Message:     name,
		Labels:      labels,
		Annotations: annotations,
		SourceURL:   str(inc["url"]),
	})
	if err != nil {
		return nil, err
	}
	return []alert.Event{ev}, nil
}

func normalizeGeneric(n *Normalizer, payload map[string]any) ([]alert.Event, error) {
	labels := stringMap(payload["labels"])
	annotations := stringMap(payload["annotations"])
	name := first(str(payload["name"]), str(payload["title"]), "generic_alert")
	metric := str(payload["metric"])

	ev, err := n.build(alert.Event{
		Provider:    alert.ProviderGeneric,
		StartsAt:    parseTime(first(str(payload["starts_at"]), str(payload["startsAt"]))),
		Service:     first(str(payload["service"]), labels["service"]),
		Env:         first(str(payload["env"]), labels["env"]),
		Severity:    ParseSeverity(str(payload["severity"])),
		SignalType:  InferSignal(name+" "+metric, labels, annotations),
		Name:        name,
		Metric:      metric,
		Observed:    parseFloat(payload["observed"]),
		Threshold:   parseFloat(payload["threshold"]),
		Unit:        str(payload["unit"]),
		Message:     first(str(payload["message"]), name),
		Labels:      labels,
		Annotations: annotations,
	})
	if err != nil {
		return nil, err
	}
	return []alert.Event{ev}, nil
}

// ParseSeverity maps provider severity vocabulary onto alert.Severity.
// An empty value is treated as a warning.
func ParseSeverity(v string) alert.Severity {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return alert.SeverityWarning
	case "critical", "crit", "page", "p1", "high", "error":
		return alert.SeverityCritical
	case "warning", "warn", "p2", "medium":
		return alert.SeverityWarning
	default:
		return alert.SeverityInfo
	}
}

var (
	saturationWords = []string{"satur", "utilization", "cpu", "memory", "pool", "capacity", "exhaust"}
	latencyWords    = []string{"latency", "p99", "p95", "duration", "slow"}
	errorWords      = []string{"5xx", "error", "exception", "failure", "fault"}
)

// InferSignal picks a signal type. An explicit signal or signal_type label or
// annotation wins, otherwise keywords in blob decide.
func InferSignal(blob string, labels, annotations map[string]string) alert.SignalType {
	if explicit := first(labels["signal"], labels["signal_type"], annotations["signal"], annotations["signal_type"]); explicit != "" {
		s := strings.ToLower(strings.TrimSpace(explicit))
		switch {
		case strings.Contains(s, "satur") || s == "cpu" || s == "pool" || s == "capacity":
			return alert.SignalSaturation
		case strings.Contains(s, "lat") || strings.Contains(s, "p99") || strings.Contains(s, "p95") || strings.Contains(s, "slo"):
			return alert.SignalLatency
		case strings.Contains(s, "err") || strings.Contains(s, "5xx"):
			return alert.SignalErrors
		}
	}

	blob = strings.ToLower(blob)
	switch {
	case containsAny(blob, saturationWords):
		return alert.SignalSaturation
	case containsAny(blob, latencyWords):
		return alert.SignalLatency
	case containsAny(blob, errorWords):
		return alert.SignalErrors
	default:
		return alert.SignalOther
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func stringMap(v any) map[string]string {
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]any:
		for k, val := range m {
			out[k] = str(val)
		}
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	}
	return out
}

// tagMap parses Datadog-style "key:value" tags.
func tagMap(v any) map[string]string {
	out := map[string]string{}
	items, _ := v.([]any)
	for _, item := range items {
		k, val, ok := strings.Cut(str(item), ":")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(val)
	}
	return out
}

// parseFloat reads a numeric field. Non-finite values are treated as
// absent; they cannot be classified or encoded.
func parseFloat(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func parseTime(v any) *time.Time {
	s := str(v)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
