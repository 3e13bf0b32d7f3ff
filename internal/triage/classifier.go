package triage

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/linnemanlabs/aitriage/internal/alert"
)

// ClassifierConfig tunes per-signal state and trend classification.
type ClassifierConfig struct {
	// SaturationWarnRatio is the fraction of threshold at which a saturation
	// signal becomes a warning. It is lower than WarnRatio so saturation
	// warns earlier.
	SaturationWarnRatio float64

	// WarnRatio applies to latency, errors and other signals.
	WarnRatio float64

	// HistoryLimit bounds the observed values kept per signal.
	HistoryLimit int

	// TrendWindow is how many recent values the trend looks at.
	TrendWindow int

	// NoiseRatio is the band, relative to the oldest value in the trend
	// window, within which a change counts as flat.
	NoiseRatio float64
}

// DefaultClassifierConfig returns the production defaults.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		SaturationWarnRatio: 0.8,
		WarnRatio:           0.9,
		HistoryLimit:        20,
		TrendWindow:         3,
		NoiseRatio:          0.02,
	}
}

// Validate checks the ratios and bounds.
func (c ClassifierConfig) Validate() error {
	var errs []error
	if c.SaturationWarnRatio <= 0 || c.SaturationWarnRatio >= 1 {
		errs = append(errs, fmt.Errorf("saturation warn ratio %v must be in (0, 1)", c.SaturationWarnRatio))
	}
	if c.WarnRatio <= 0 || c.WarnRatio >= 1 {
		errs = append(errs, fmt.Errorf("warn ratio %v must be in (0, 1)", c.WarnRatio))
	}
	if c.HistoryLimit < 2 {
		errs = append(errs, fmt.Errorf("history limit %d must be at least 2", c.HistoryLimit))
	}
	if c.TrendWindow < 2 || c.TrendWindow > c.HistoryLimit {
		errs = append(errs, fmt.Errorf("trend window %d must be in [2, history limit]", c.TrendWindow))
	}
	if c.NoiseRatio < 0 {
		errs = append(errs, fmt.Errorf("noise ratio %v must not be negative", c.NoiseRatio))
	}
	return errors.Join(errs...)
}

// Classifier derives signal snapshots from attached alerts.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier returns a Classifier for cfg.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify returns the new snapshot for ev's signal type given the prior
// snapshot, which may be nil. prev is not modified.
func (c *Classifier) Classify(prev *SignalSnapshot, ev *alert.Event) *SignalSnapshot {
	var history []float64
	if prev != nil {
		history = slices.Clone(prev.History)
	}
	if ev.Observed != nil {
		history = append(history, *ev.Observed)
		if over := len(history) - c.cfg.HistoryLimit; over > 0 {
			history = slices.Delete(history, 0, over)
		}
	}

	return &SignalSnapshot{
		SignalType: ev.SignalType,
		State:      c.State(ev),
		Trend:      c.Trend(history),
		Observed:   ev.Observed,
		Threshold:  ev.Threshold,
		Unit:       ev.Unit,
		Metric:     ev.Metric,
		History:    history,
		UpdatedAt:  ev.ReceivedAt,
	}
}

// State classifies a single alert.
func (c *Classifier) State(ev *alert.Event) SignalState {
	if ev.Observed == nil || ev.Threshold == nil {
		switch ev.Severity {
		case alert.SeverityCritical:
			return StateCritical
		case alert.SeverityWarning:
			return StateWarning
		default:
			return StateOK
		}
	}

	ratio := c.cfg.WarnRatio
	if ev.SignalType == alert.SignalSaturation {
		ratio = c.cfg.SaturationWarnRatio
	}
	observed, threshold := *ev.Observed, *ev.Threshold
	switch {
	case observed >= threshold:
		return StateCritical
	case observed >= threshold*ratio:
		return StateWarning
	default:
		return StateOK
	}
}

// Trend compares the newest value against the recent window of history.
// A direction needs a majority of steps moving that way and a net change
// beyond the noise band.
func (c *Classifier) Trend(history []float64) Trend {
	if len(history) < 2 {
		return TrendUnknown
	}
	window := history
	if len(window) > c.cfg.TrendWindow {
		window = window[len(window)-c.cfg.TrendWindow:]
	}

	oldest, newest := window[0], window[len(window)-1]
	band := math.Max(1e-6, c.cfg.NoiseRatio*math.Abs(oldest))

	var ups, downs int
	for i := 1; i < len(window); i++ {
		switch d := window[i] - window[i-1]; {
		case d > band:
			ups++
		case d < -band:
			downs++
		}
	}

	switch {
	case ups > downs && newest-oldest > band:
		return TrendUp
	case downs > ups && oldest-newest > band:
		return TrendDown
	default:
		return TrendFlat
	}
}
