package alertapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aitriage/internal/llm"
	"github.com/linnemanlabs/aitriage/internal/report"
	"github.com/linnemanlabs/aitriage/internal/triage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type resolutionRequest struct {
	Status string `json:"status" validate:"required,oneof=none resolved auto_closed false_alert accepted"`
	Note   string `json:"note" validate:"max=2000"`
}

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, a.svc.List(r.Context(), limit))
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("aitriage.incident.id", id))

	inc, ok := a.svc.Get(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleResolution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("aitriage.incident.id", id))

	var req resolutionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inc, err := a.svc.UpdateResolution(r.Context(), id, triage.ResolutionStatus(req.Status), req.Note)
	switch {
	case errors.Is(err, triage.ErrNotFound):
		writeError(w, http.StatusNotFound, "incident not found")
		return
	case errors.Is(err, triage.ErrInvalidResolution):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to update resolution", "incident_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// handleReport renders an incident report. Query parameters: format
// (text|markdown|json), llm (auto|off|openai|anthropic) and model.
func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aitriage.incident.id", id))

	q := r.URL.Query()
	format, err := report.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := llm.ParseMode(q.Get("llm"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	model := q.Get("model")
	if len(model) > 128 {
		writeError(w, http.StatusBadRequest, "model name too long")
		return
	}

	inc, ok := a.svc.Get(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}

	res, err := a.reports.Generate(r.Context(), report.Request{
		Incident: inc,
		Format:   format,
		Mode:     mode,
		Model:    model,
		Identity: clientIdentity(r),
	})
	if err != nil {
		a.logger.Error(r.Context(), err, "report generation failed", "incident_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	setRateLimitHeaders(w, res.RateLimit)
	cache := "miss"
	if res.Cached {
		cache = "hit"
	}
	w.Header().Set("X-Report-Cache", cache)
	if res.Narrative != nil {
		w.Header().Set("X-LLM-Provider", res.Narrative.Provider)
		w.Header().Set("X-LLM-Model", res.Narrative.Model)
	}
	span.SetAttributes(attribute.String("aitriage.report.cache", cache))

	w.Header().Set("Content-Type", res.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}
