package triage

import (
	"slices"
	"time"

	"github.com/linnemanlabs/aitriage/internal/alert"
)

// SignalState is the classified state of one signal.
type SignalState string

const (
	StateOK       SignalState = "ok"
	StateWarning  SignalState = "warning"
	StateCritical SignalState = "critical"
)

// Trend is the direction of recent observed values.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendFlat    Trend = "flat"
	TrendUnknown Trend = "unknown"
)

// ImpactLevel is the verdict of impact assessment.
type ImpactLevel string

const (
	ImpactNone  ImpactLevel = "none"
	ImpactMinor ImpactLevel = "minor"
	ImpactMajor ImpactLevel = "major"
)

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusWatch means nothing currently needs attention
	StatusWatch Status = "watch"

	// StatusInvestigating means impact is minor or major
	StatusInvestigating Status = "investigating"

	// StatusResolved means the incident recovered or was closed by an operator
	StatusResolved Status = "resolved"
)

// ResolutionStatus is the operator-assigned outcome of an incident.
type ResolutionStatus string

const (
	ResolutionNone       ResolutionStatus = "none"
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionAutoClosed ResolutionStatus = "auto_closed"
	ResolutionFalseAlert ResolutionStatus = "false_alert"
	ResolutionAccepted   ResolutionStatus = "accepted"
)

// Valid reports whether r is a known resolution status.
func (r ResolutionStatus) Valid() bool {
	switch r {
	case ResolutionNone, ResolutionResolved, ResolutionAutoClosed, ResolutionFalseAlert, ResolutionAccepted:
		return true
	}
	return false
}

// Terminal reports whether r closes the incident.
func (r ResolutionStatus) Terminal() bool {
	return r == ResolutionResolved || r == ResolutionAutoClosed || r == ResolutionFalseAlert
}

// Classification tags produced by the assessor.
const (
	ClassOutage             = "outage"
	ClassErrorSpike         = "error_spike"
	ClassLatencyDegradation = "latency_degradation"
	ClassCapacityWarning    = "capacity_warning"
	ClassDegradationRisk    = "degradation_risk"
	ClassInvestigate        = "investigate"
	ClassStable             = "stable"
)

// SignalSnapshot is the current view of one signal type within an incident.
type SignalSnapshot struct {
	SignalType alert.SignalType `json:"signalType"`
	State      SignalState      `json:"state"`
	Trend      Trend            `json:"trend"`
	Observed   *float64         `json:"observed,omitempty"`
	Threshold  *float64         `json:"threshold,omitempty"`
	Unit       string           `json:"unit,omitempty"`
	Metric     string           `json:"metric,omitempty"`
	History    []float64        `json:"history"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// HasData reports whether both observed and threshold are known.
func (s *SignalSnapshot) HasData() bool {
	return s != nil && s.Observed != nil && s.Threshold != nil
}

// ImpactAssessment is the verdict over an incident's signals.
type ImpactAssessment struct {
	Impact         ImpactLevel `json:"impact"`
	Classification string      `json:"classification"`
	Confidence     float64     `json:"confidence"`
	Summary        string      `json:"summary"`
	Reasons        []string    `json:"reasons"`
}

// Incident groups alerts for one (service, env) pair.
type Incident struct {
	ID               string                               `json:"id"`
	Service          string                               `json:"service"`
	Env              string                               `json:"env"`
	Status           Status                               `json:"status"`
	CreatedAt        time.Time                            `json:"createdAt"`
	UpdatedAt        time.Time                            `json:"updatedAt"`
	Alerts           []alert.Event                        `json:"alerts"`
	Signals          map[alert.SignalType]*SignalSnapshot `json:"signals"`
	Impact           ImpactAssessment                     `json:"impact"`
	ResolutionStatus ResolutionStatus                     `json:"resolutionStatus"`
	ResolutionNote   string                               `json:"resolutionNote,omitempty"`
}

// Clone returns a deep copy. Alert events are immutable and share their
// label maps.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Alerts = slices.Clone(i.Alerts)
	cp.Signals = make(map[alert.SignalType]*SignalSnapshot, len(i.Signals))
	for k, s := range i.Signals {
		sc := *s
		sc.History = slices.Clone(s.History)
		cp.Signals[k] = &sc
	}
	cp.Impact.Reasons = slices.Clone(i.Impact.Reasons)
	return &cp
}

// Summary is the list view of an incident.
type Summary struct {
	ID               string                               `json:"id"`
	Service          string                               `json:"service"`
	Env              string                               `json:"env"`
	Status           Status                               `json:"status"`
	UpdatedAt        time.Time                            `json:"updatedAt"`
	Impact           ImpactAssessment                     `json:"impact"`
	Signals          map[alert.SignalType]*SignalSnapshot `json:"signals"`
	AlertCount       int                                  `json:"alertCount"`
	ResolutionStatus ResolutionStatus                     `json:"resolutionStatus"`
	ResolutionNote   string                               `json:"resolutionNote,omitempty"`
}

// Summarize returns the list view of i. The summary shares no state with i.
func (i *Incident) Summarize() Summary {
	cp := i.Clone()
	return Summary{
		ID:               cp.ID,
		Service:          cp.Service,
		Env:              cp.Env,
		Status:           cp.Status,
		UpdatedAt:        cp.UpdatedAt,
		Impact:           cp.Impact,
		Signals:          cp.Signals,
		AlertCount:       len(cp.Alerts),
		ResolutionStatus: cp.ResolutionStatus,
		ResolutionNote:   cp.ResolutionNote,
	}
}
