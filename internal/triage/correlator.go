package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/aitriage/internal/alert"
)

var (
	// ErrNotFound is returned when an incident ID is unknown.
	ErrNotFound = errors.New("incident not found")

	// ErrInvalidResolution is returned for an unknown resolution status.
	ErrInvalidResolution = errors.New("invalid resolution status")
)

// CorrelatorConfig controls grouping and de-duplication.
type CorrelatorConfig struct {
	// Window is how long after its last update an incident keeps
	// accepting alerts for its (service, env).
	Window time.Duration

	// DedupeWindow is how long an accepted fingerprint suppresses repeats.
	DedupeWindow time.Duration

	Classifier ClassifierConfig
}

// DefaultCorrelatorConfig returns the production defaults.
func DefaultCorrelatorConfig() CorrelatorConfig {
	return CorrelatorConfig{
		Window:       60 * time.Minute,
		DedupeWindow: 120 * time.Second,
		Classifier:   DefaultClassifierConfig(),
	}
}

// Outcome describes what Ingest did with one alert.
type Outcome struct {
	// Incident is a copy of the incident after the alert was applied. For a
	// deduplicated alert it is the current incident for the key, if any.
	Incident *Incident

	// PreviousImpact is the impact before this alert was attached.
	PreviousImpact ImpactLevel

	Created      bool
	Deduplicated bool
}

// Correlator groups alerts into incidents. All mutations for one
// (service, env) key are serialized.
type Correlator struct {
	cfg        CorrelatorConfig
	store      *Store
	classifier *Classifier
	locks      keyedMutex
	now        func() time.Time
	newID      func() string
}

// NewCorrelator returns a Correlator writing to store.
func NewCorrelator(cfg CorrelatorConfig, store *Store) *Correlator {
	return &Correlator{
		cfg:        cfg,
		store:      store,
		classifier: NewClassifier(cfg.Classifier),
		now:        time.Now,
		newID:      func() string { return ulid.Make().String() },
	}
}

// Store returns the incident store the correlator writes to.
func (c *Correlator) Store() *Store { return c.store }

// Ingest attaches ev to the open incident for its (service, env) or starts
// a new one. A fingerprint accepted within the dedupe window is dropped
// without touching any incident.
func (c *Correlator) Ingest(ctx context.Context, ev alert.Event) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := groupKey{service: ev.Service, env: ev.Env}
	unlock := c.locks.lock(key)
	defer unlock()

	now := c.now().UTC()

	if c.store.seenWithin(ev.Fingerprint, now, c.cfg.DedupeWindow) {
		inc, _ := c.store.latest(key)
		return &Outcome{Incident: inc, Deduplicated: true}, nil
	}

	inc, ok := c.store.latest(key)
	created := false
	if !ok || !c.isOpen(inc, now) {
		inc = &Incident{
			ID:               c.newID(),
			Service:          ev.Service,
			Env:              ev.Env,
			Status:           StatusWatch,
			CreatedAt:        now,
			UpdatedAt:        now,
			Signals:          make(map[alert.SignalType]*SignalSnapshot),
			ResolutionStatus: ResolutionNone,
		}
		created = true
	}

	prev := inc.Impact.Impact
	inc.Alerts = append(inc.Alerts, ev)
	inc.Signals[ev.SignalType] = c.classifier.Classify(inc.Signals[ev.SignalType], &ev)
	inc.Impact = Assess(inc.Signals)
	inc.Status = deriveStatus(prev, inc.Impact)
	inc.UpdatedAt = later(inc.UpdatedAt, now)

	c.store.put(inc, true)
	c.store.markSeen(ev.Fingerprint, now, c.cfg.DedupeWindow)

	return &Outcome{Incident: inc, PreviousImpact: prev, Created: created}, nil
}

// UpdateResolution sets the operator resolution of an incident. Terminal
// resolutions close the incident; clearing one reopens it.
func (c *Correlator) UpdateResolution(ctx context.Context, id string, status ResolutionStatus, note string) (*Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, status)
	}
	cur, ok := c.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	unlock := c.locks.lock(groupKey{service: cur.Service, env: cur.Env})
	defer unlock()

	// re-read under the key lock so a concurrent attachment is not lost
	inc, ok := c.store.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	wasTerminal := inc.ResolutionStatus.Terminal()
	inc.ResolutionStatus = status
	inc.ResolutionNote = note
	switch {
	case status.Terminal():
		inc.Status = StatusResolved
	case wasTerminal:
		inc.Status = deriveStatus(ImpactNone, inc.Impact)
	}
	inc.UpdatedAt = later(inc.UpdatedAt, c.now().UTC())

	c.store.put(inc, false)
	return inc, nil
}

// isOpen reports whether inc can still accept alerts at now.
func (c *Correlator) isOpen(inc *Incident, now time.Time) bool {
	return inc.Status != StatusResolved && now.Sub(inc.UpdatedAt) <= c.cfg.Window
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// keyedMutex hands out one mutex per key, dropping it once no goroutine
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[groupKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key groupKey) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[groupKey]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
