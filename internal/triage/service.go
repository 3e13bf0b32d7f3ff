package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aitriage/internal/events"
	"github.com/linnemanlabs/aitriage/internal/normalize"
	"github.com/linnemanlabs/aitriage/internal/scenarios"
)

// CacheInvalidator drops every cached report for an incident.
type CacheInvalidator interface {
	InvalidateIncident(ctx context.Context, incidentID string)
}

// Publisher broadcasts change notifications.
type Publisher interface {
	Publish(ev events.Event)
}

// Notifier is told when an incident escalates to major impact.
type Notifier interface {
	Send(ctx context.Context, inc *Incident) error
}

// IngestResult is the outcome of ingesting one payload.
type IngestResult struct {
	Accepted     int       `json:"accepted"`
	Deduplicated int       `json:"deduplicated"`
	IncidentIDs  []string  `json:"incidentIds"`
	Incidents    []Summary `json:"incidents"`
}

// ServiceDeps are the collaborators of a Service. Normalizer and Correlator
// are required.
type ServiceDeps struct {
	Normalizer *normalize.Normalizer
	Correlator *Correlator
	Cache      CacheInvalidator
	Events     Publisher
	Notifier   Notifier
	Metrics    *Metrics
	Logger     log.Logger
}

// Service is the business boundary for ingestion and incident operations.
type Service struct {
	norm     *normalize.Normalizer
	corr     *Correlator
	cache    CacheInvalidator
	events   Publisher
	notifier Notifier
	metrics  *Metrics
	logger   log.Logger
}

// NewService creates a new triage service.
func NewService(d ServiceDeps) *Service {
	if d.Normalizer == nil {
		panic(xerrors.New("normalizer is required"))
	}
	if d.Correlator == nil {
		panic(xerrors.New("correlator is required"))
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	return &Service{
		norm:     d.Normalizer,
		corr:     d.Correlator,
		cache:    d.Cache,
		events:   d.Events,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
}

// Ingest normalizes payload and correlates every resulting alert. The
// provider hint may be empty.
func (s *Service) Ingest(ctx context.Context, hint string, payload map[string]any) (*IngestResult, error) {
	start := time.Now()
	defer func() { s.metrics.ingestDuration(time.Since(start).Seconds()) }()

	p, err := normalize.ParseProvider(hint)
	if err != nil {
		s.metrics.rejected("unsupported_provider")
		return nil, err
	}
	evs, err := s.norm.Normalize(p, payload)
	if err != nil {
		var ve *normalize.ValidationError
		switch {
		case errors.As(err, &ve):
			s.metrics.rejected("validation")
		case errors.Is(err, normalize.ErrUnsupportedProvider):
			s.metrics.rejected("unsupported_provider")
		}
		return nil, err
	}

	res := &IngestResult{IncidentIDs: []string{}, Incidents: []Summary{}}
	latest := make(map[string]int) // incident ID -> index in res
	for i := range evs {
		ev := evs[i]
		out, err := s.corr.Ingest(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("correlate alert %s: %w", ev.ID, err)
		}
		s.metrics.observeOutcome(out, string(ev.Provider), string(ev.SignalType))
		if out.Deduplicated {
			res.Deduplicated++
			continue
		}
		res.Accepted++
		s.afterMutation(ctx, out.Incident)
		s.publish(events.Event{Type: events.TypeAlertIngested, IncidentID: out.Incident.ID, Data: ev})

		if out.Incident.Impact.Impact == ImpactMajor && out.PreviousImpact != ImpactMajor {
			s.escalate(ctx, out.Incident)
		}

		sum := out.Incident.Summarize()
		if idx, ok := latest[sum.ID]; ok {
			res.Incidents[idx] = sum
			continue
		}
		latest[sum.ID] = len(res.Incidents)
		res.IncidentIDs = append(res.IncidentIDs, sum.ID)
		res.Incidents = append(res.Incidents, sum)
	}

	s.logger.Info(ctx, "payload ingested",
		"provider", p,
		"alerts", len(evs),
		"accepted", res.Accepted,
		"deduplicated", res.Deduplicated,
		"incidents", res.IncidentIDs,
	)
	return res, nil
}

// RunScenario ingests a built-in scenario against service and env.
func (s *Service) RunScenario(ctx context.Context, name, service, env string) (*IngestResult, error) {
	sc, err := scenarios.Load(name, service, env)
	if err != nil {
		return nil, err
	}

	total := &IngestResult{IncidentIDs: []string{}, Incidents: []Summary{}}
	idx := make(map[string]int)
	for _, d := range sc.Deliveries {
		r, err := s.Ingest(ctx, d.Provider, d.Payload)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
		total.Accepted += r.Accepted
		total.Deduplicated += r.Deduplicated
		for _, sum := range r.Incidents {
			if i, ok := idx[sum.ID]; ok {
				total.Incidents[i] = sum
				continue
			}
			idx[sum.ID] = len(total.Incidents)
			total.IncidentIDs = append(total.IncidentIDs, sum.ID)
			total.Incidents = append(total.Incidents, sum)
		}
	}
	return total, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(_ context.Context, id string) (*Incident, bool) {
	return s.corr.Store().Get(id)
}

// List returns up to limit incident summaries, most recently updated first.
func (s *Service) List(_ context.Context, limit int) []Summary {
	incs := s.corr.Store().List(limit)
	out := make([]Summary, 0, len(incs))
	for _, inc := range incs {
		out = append(out, inc.Summarize())
	}
	return out
}

// UpdateResolution applies an operator resolution to an incident.
func (s *Service) UpdateResolution(ctx context.Context, id string, status ResolutionStatus, note string) (*Incident, error) {
	inc, err := s.corr.UpdateResolution(ctx, id, status, note)
	if err != nil {
		return nil, err
	}
	s.metrics.resolution(status)
	s.afterMutation(ctx, inc)
	s.logger.Info(ctx, "incident resolution updated", "incident_id", id, "resolution", status, "status", inc.Status)
	return inc, nil
}

// afterMutation invalidates cached reports and notifies observers.
func (s *Service) afterMutation(ctx context.Context, inc *Incident) {
	if s.cache != nil {
		s.cache.InvalidateIncident(ctx, inc.ID)
	}
	s.publish(events.Event{Type: events.TypeIncidentUpdated, IncidentID: inc.ID, Data: inc.Summarize()})
}

func (s *Service) publish(ev events.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// escalate notifies in the background; the caller's cancellation must not
// abort the notification.
func (s *Service) escalate(ctx context.Context, inc *Incident) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		L := s.logger.With("incident_id", inc.ID, "service", inc.Service, "env", inc.Env)
		if err := s.notifier.Send(ctx, inc); err != nil {
			s.metrics.notification("failed")
			L.Error(ctx, err, "escalation notification failed")
			return
		}
		s.metrics.notification("sent")
		L.Info(ctx, "escalation notification sent", "classification", inc.Impact.Classification)
	}()
}
