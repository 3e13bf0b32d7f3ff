// Package report builds deterministic situation reports for incidents and
// orchestrates cached, rate-limited narrative enrichment.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/linnemanlabs/aitriage/internal/alert"
	"github.com/linnemanlabs/aitriage/internal/triage"
)

// MaxRecentAlerts bounds the alert timeline included in a report.
const MaxRecentAlerts = 10

// Report is the deterministic view of an incident.
type Report struct {
	IncidentID       string                  `json:"incidentId"`
	Service          string                  `json:"service"`
	Env              string                  `json:"env"`
	Status           triage.Status           `json:"status"`
	AsOf             time.Time               `json:"asOf"`
	Impact           triage.ImpactAssessment `json:"impact"`
	Summary          string                  `json:"summary"`
	Signals          []Signal                `json:"signals"`
	RecentAlerts     []RecentAlert           `json:"recentAlerts"`
	Runbook          []Step                  `json:"runbook"`
	ResolutionStatus triage.ResolutionStatus `json:"resolutionStatus"`
	ResolutionNote   string                  `json:"resolutionNote,omitempty"`
	Narrative        *Narrative              `json:"narrative,omitempty"`
}

// Signal is one signal line in a report.
type Signal struct {
	SignalType alert.SignalType   `json:"signalType"`
	State      triage.SignalState `json:"state"`
	Trend      triage.Trend       `json:"trend"`
	Observed   *float64           `json:"observed,omitempty"`
	Threshold  *float64           `json:"threshold,omitempty"`
	Unit       string             `json:"unit,omitempty"`
	Metric     string             `json:"metric,omitempty"`
}

// RecentAlert is a timeline entry.
type RecentAlert struct {
	ID         string           `json:"id"`
	ReceivedAt time.Time        `json:"receivedAt"`
	Provider   alert.Provider   `json:"provider"`
	Severity   alert.Severity   `json:"severity"`
	SignalType alert.SignalType `json:"signalType"`
	Message    string           `json:"message,omitempty"`
	Observed   *float64         `json:"observed,omitempty"`
	Threshold  *float64         `json:"threshold,omitempty"`
	Unit       string           `json:"unit,omitempty"`
}

// Narrative is model-written prose merged into a report.
type Narrative struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Build returns the deterministic report for inc. It reads no clock: two
// calls on the same incident state produce identical reports.
func Build(inc *triage.Incident) *Report {
	return &Report{
		IncidentID:       inc.ID,
		Service:          inc.Service,
		Env:              inc.Env,
		Status:           inc.Status,
		AsOf:             inc.UpdatedAt,
		Impact:           inc.Impact,
		Summary:          inc.Impact.Summary,
		Signals:          signals(inc),
		RecentAlerts:     recentAlerts(inc.Alerts),
		Runbook:          Runbook(inc.Impact.Classification),
		ResolutionStatus: inc.ResolutionStatus,
		ResolutionNote:   inc.ResolutionNote,
	}
}

func signals(inc *triage.Incident) []Signal {
	order := append(append([]alert.SignalType(nil), alert.TrackedSignals...), alert.SignalOther)
	out := make([]Signal, 0, len(inc.Signals))
	for _, st := range order {
		s, ok := inc.Signals[st]
		if !ok {
			continue
		}
		out = append(out, Signal{
			SignalType: st,
			State:      s.State,
			Trend:      s.Trend,
			Observed:   finite(s.Observed),
			Threshold:  finite(s.Threshold),
			Unit:       s.Unit,
			Metric:     s.Metric,
		})
	}
	return out
}

func recentAlerts(alerts []alert.Event) []RecentAlert {
	if len(alerts) > MaxRecentAlerts {
		alerts = alerts[len(alerts)-MaxRecentAlerts:]
	}
	out := make([]RecentAlert, 0, len(alerts))
	for i := range alerts {
		a := &alerts[i]
		out = append(out, RecentAlert{
			ID:         a.ID,
			ReceivedAt: a.ReceivedAt,
			Provider:   a.Provider,
			Severity:   a.Severity,
			SignalType: a.SignalType,
			Message:    a.Message,
			Observed:   finite(a.Observed),
			Threshold:  finite(a.Threshold),
			Unit:       a.Unit,
		})
	}
	return out
}

// finite drops readings that cannot be rendered as JSON numbers.
func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

// ContentHash identifies the report-relevant state of inc. Any accepted
// alert or resolution change yields a new hash.
func ContentHash(inc *triage.Incident) string {
	h := sha256.New()
	field := func(v any) { fmt.Fprintf(h, "%v\x00", v) }

	field(inc.ID)
	field(len(inc.Alerts))
	for i := range inc.Alerts {
		field(inc.Alerts[i].ID)
	}
	field(inc.Status)
	field(inc.ResolutionStatus)
	field(inc.ResolutionNote)
	field(inc.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}
