// Package alert defines the canonical alert record produced by normalization.
package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Provider identifies the monitoring system that emitted an alert.
type Provider string

const (
	ProviderPrometheus  Provider = "prometheus"
	ProviderDatadog     Provider = "datadog"
	ProviderBetterstack Provider = "betterstack"
	ProviderGeneric     Provider = "generic"
)

// Severity is the canonical severity vocabulary.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SignalType groups alerts by the golden signal they describe.
type SignalType string

const (
	SignalSaturation SignalType = "saturation"
	SignalLatency    SignalType = "latency"
	SignalErrors     SignalType = "errors"
	SignalOther      SignalType = "other"
)

// TrackedSignals are the signal types that drive impact assessment, in
// reporting order.
var TrackedSignals = []SignalType{SignalErrors, SignalLatency, SignalSaturation}

// Event is a normalized alert. It is never modified after the normalizer
// returns it.
type Event struct {
	ID          string            `json:"id"`
	Provider    Provider          `json:"provider"`
	ReceivedAt  time.Time         `json:"receivedAt"`
	StartsAt    *time.Time        `json:"startsAt,omitempty"`
	Service     string            `json:"service"`
	Env         string            `json:"env"`
	Severity    Severity          `json:"severity"`
	SignalType  SignalType        `json:"signalType"`
	Name        string            `json:"name,omitempty"`
	Metric      string            `json:"metric,omitempty"`
	Observed    *float64          `json:"observed,omitempty"`
	Threshold   *float64          `json:"threshold,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Message     string            `json:"message,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	SourceURL   string            `json:"sourceUrl,omitempty"`
	Fingerprint string            `json:"fingerprint"`
}

var (
	digitsRe = regexp.MustCompile(`[0-9]+(\.[0-9]+)?`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// MessageShape reduces a message to a form that ignores the numbers in it,
// so "cpu at 97%" and "cpu at 98%" share a shape.
func MessageShape(msg string) string {
	s := strings.ToLower(strings.TrimSpace(msg))
	s = digitsRe.ReplaceAllString(s, "#")
	return spaceRe.ReplaceAllString(s, " ")
}

// Fingerprint returns a stable hash that identifies the underlying condition
// an alert describes, independent of delivery. Service and env are taken as
// given so that equal fingerprints always share a correlation key.
func Fingerprint(p Provider, service, env string, st SignalType, metric, message string) string {
	parts := []string{
		string(p),
		service,
		env,
		string(st),
		strings.TrimSpace(metric),
		MessageShape(message),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
