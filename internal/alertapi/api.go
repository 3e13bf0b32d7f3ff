// Package alertapi serves the HTTP API: alert ingestion, incident reads and
// updates, reports, chat, live events and narrative provider settings.
package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aitriage/internal/authmw"
	"github.com/linnemanlabs/aitriage/internal/events"
	"github.com/linnemanlabs/aitriage/internal/llm"
	"github.com/linnemanlabs/aitriage/internal/ratelimit"
	"github.com/linnemanlabs/aitriage/internal/report"
	"github.com/linnemanlabs/aitriage/internal/triage"
)

// TriageService defines the incident operations alertapi needs.
type TriageService interface {
	Ingest(ctx context.Context, hint string, payload map[string]any) (*triage.IngestResult, error)
	RunScenario(ctx context.Context, name, service, env string) (*triage.IngestResult, error)
	Get(ctx context.Context, id string) (*triage.Incident, bool)
	List(ctx context.Context, limit int) []triage.Summary
	UpdateResolution(ctx context.Context, id string, status triage.ResolutionStatus, note string) (*triage.Incident, error)
}

// ReportService renders reports and answers chat prompts.
type ReportService interface {
	Generate(ctx context.Context, req report.Request) (*report.Result, error)
	Chat(ctx context.Context, req report.ChatRequest) (*report.ChatResult, error)
}

// RateLimitAdmin resets an identity's quota.
type RateLimitAdmin interface {
	Reset(ctx context.Context, identity string) error
}

// ProviderRegistry exposes the narrative providers and their weights.
type ProviderRegistry interface {
	Info() []llm.ProviderInfo
	Provider(name string) (llm.Provider, bool)
	SetWeights(weights map[string]float64) error
}

// EventSource hands out change notification subscriptions.
type EventSource interface {
	Subscribe() *events.Subscription
}

// Deps are the collaborators of the API. All are required except
// AdminToken; an empty token leaves the admin routes unauthenticated.
type Deps struct {
	Triage     TriageService
	Reports    ReportService
	Limiter    RateLimitAdmin
	Providers  ProviderRegistry
	Events     EventSource
	AdminToken string
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	svc       TriageService
	reports   ReportService
	limiter   RateLimitAdmin
	providers ProviderRegistry
	events    EventSource
	token     string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New creates a new API handler.
func New(logger log.Logger, d Deps) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if d.Triage == nil || d.Reports == nil || d.Limiter == nil || d.Providers == nil || d.Events == nil {
		panic(xerrors.New("alertapi requires triage, reports, limiter, providers and events"))
	}
	return &API{
		logger:    logger,
		svc:       d.Triage,
		reports:   d.Reports,
		limiter:   d.Limiter,
		providers: d.Providers,
		events:    d.Events,
		token:     d.AdminToken,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", a.handleIngest)
		r.Post("/webhooks/{provider}", a.handleWebhook)
		r.Post("/scenarios/{name}", a.handleScenario)

		r.Get("/incidents", a.handleListIncidents)
		r.Get("/incidents/{id}", a.handleGetIncident)
		r.Post("/incidents/{id}/report", a.handleReport)
		r.Post("/incidents/{id}/resolution", a.handleResolution)

		r.Post("/chat", a.handleChat)
		r.Get("/stream", a.handleStream)

		r.Get("/llm/providers", a.handleProviders)
		r.Get("/llm/models", a.handleModels)
		r.Put("/llm/weights", a.handleWeights)

		r.Group(func(r chi.Router) {
			if a.token != "" {
				r.Use(authmw.BearerToken(a.token))
			}
			r.Post("/admin/rate-limit/reset", a.handleRateLimitReset)
		})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		code = http.StatusInternalServerError
		body = []byte(`{"error":"response not encodable"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeBody decodes and validates a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return validationError(validate.Struct(dst))
}

// validationError flattens validator output into a short client message.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err
	}
	fe := ve[0]
	msg := "field " + fe.Field() + " failed " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return errors.New(msg)
}

// clientIdentity is the rate-limit identity of a request: the remote host.
func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// setRateLimitHeaders exposes a limiter decision to the caller.
func setRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	if d == nil {
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
