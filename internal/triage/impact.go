package triage

import (
	"fmt"
	"math"
	"strconv"

	"github.com/linnemanlabs/aitriage/internal/alert"
)

// MaxReasons bounds ImpactAssessment.Reasons.
const MaxReasons = 5

var baseConfidence = map[string]float64{
	ClassOutage:             0.9,
	ClassErrorSpike:         0.8,
	ClassLatencyDegradation: 0.8,
	ClassDegradationRisk:    0.7,
	ClassCapacityWarning:    0.65,
	ClassInvestigate:        0.6,
	ClassStable:             0.55,
}

var summaries = map[string]string{
	ClassOutage:             "Likely user-facing outage: both errors and latency are critical.",
	ClassErrorSpike:         "Likely user-facing issue: error rate is critical.",
	ClassLatencyDegradation: "Likely user-facing issue: latency is critical.",
	ClassDegradationRisk:    "Potential degradation: saturation is critical and latency or errors are at warning level.",
	ClassCapacityWarning:    "Capacity warning: saturation is high, but no evidence of user impact yet.",
	ClassInvestigate:        "Investigate: warning-level signals without clear outage evidence.",
	ClassStable:             "No incident signals. System appears stable.",
}

// Assess maps the tracked signal snapshots to an impact verdict. Signals
// missing from the map count as ok; other signals are ignored.
func Assess(signals map[alert.SignalType]*SignalSnapshot) ImpactAssessment {
	errs := stateOf(signals[alert.SignalErrors])
	lat := stateOf(signals[alert.SignalLatency])
	sat := stateOf(signals[alert.SignalSaturation])

	var impact ImpactLevel
	var class string
	switch {
	case errs == StateCritical && lat == StateCritical:
		impact, class = ImpactMajor, ClassOutage
	case errs == StateCritical:
		impact, class = ImpactMajor, ClassErrorSpike
	case lat == StateCritical:
		impact, class = ImpactMajor, ClassLatencyDegradation
	case sat == StateCritical && lat == StateOK && errs == StateOK:
		impact, class = ImpactNone, ClassCapacityWarning
	case sat == StateCritical:
		impact, class = ImpactMinor, ClassDegradationRisk
	case errs == StateWarning || lat == StateWarning || sat == StateWarning:
		impact, class = ImpactMinor, ClassInvestigate
	default:
		impact, class = ImpactNone, ClassStable
	}

	populated := 0
	for _, st := range alert.TrackedSignals {
		if signals[st].HasData() {
			populated++
		}
	}
	conf := baseConfidence[class] * (0.7 + 0.1*float64(populated))
	conf = math.Round(math.Min(1, math.Max(0, conf))*100) / 100

	return ImpactAssessment{
		Impact:         impact,
		Classification: class,
		Confidence:     conf,
		Summary:        summaries[class],
		Reasons:        reasons(signals),
	}
}

// reasons lists one justification per non-ok tracked signal, most
// user-facing first.
func reasons(signals map[alert.SignalType]*SignalSnapshot) []string {
	out := make([]string, 0, len(alert.TrackedSignals))
	for _, st := range alert.TrackedSignals {
		s := signals[st]
		if stateOf(s) == StateOK {
			continue
		}
		out = append(out, reason(s))
		if len(out) == MaxReasons {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, "saturation, latency and errors are all ok")
	}
	return out
}

func reason(s *SignalSnapshot) string {
	var r string
	if s.HasData() {
		op := "<"
		if *s.Observed >= *s.Threshold {
			op = "≥"
		}
		r = fmt.Sprintf("%s %s: observed %s %s threshold %s",
			s.SignalType, s.State, formatValue(*s.Observed, s.Unit), op, formatValue(*s.Threshold, s.Unit))
	} else {
		r = fmt.Sprintf("%s %s: reported by alert severity (no threshold data)", s.SignalType, s.State)
	}
	if s.Trend == TrendUp || s.Trend == TrendDown {
		r += ", trending " + string(s.Trend)
	}
	return r
}

func stateOf(s *SignalSnapshot) SignalState {
	if s == nil {
		return StateOK
	}
	return s.State
}

func formatValue(v float64, unit string) string {
	n := strconv.FormatFloat(v, 'f', -1, 64)
	switch unit {
	case "":
		return n
	case "%", "ms", "s":
		return n + unit
	default:
		return n + " " + unit
	}
}

// deriveStatus maps an assessment to a lifecycle status. Recovering to
// stable from minor or major resolves the incident.
func deriveStatus(prev ImpactLevel, a ImpactAssessment) Status {
	switch {
	case a.Impact == ImpactMajor || a.Impact == ImpactMinor:
		return StatusInvestigating
	case a.Classification == ClassStable && (prev == ImpactMajor || prev == ImpactMinor):
		return StatusResolved
	default:
		return StatusWatch
	}
}
