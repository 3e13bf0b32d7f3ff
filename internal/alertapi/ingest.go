package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aitriage/internal/normalize"
	"github.com/linnemanlabs/aitriage/internal/scenarios"
)

type ingestRequest struct {
	Provider string         `json:"provider" validate:"omitempty,max=32"`
	Payload  map[string]any `json:"payload" validate:"required"`
}

type scenarioRequest struct {
	Service string `json:"service" validate:"omitempty,max=63"`
	Env     string `json:"env" validate:"omitempty,max=63"`
}

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.ingest(w, r, req.Provider, req.Payload)
}

// handleWebhook accepts a provider's native webhook body.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a.ingest(w, r, chi.URLParam(r, "provider"), payload)
}

func (a *API) ingest(w http.ResponseWriter, r *http.Request, hint string, payload map[string]any) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aitriage.ingest.provider_hint", hint))

	res, err := a.svc.Ingest(r.Context(), hint, payload)
	if err != nil {
		a.writeIngestError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Int("aitriage.ingest.accepted", res.Accepted),
		attribute.Int("aitriage.ingest.deduplicated", res.Deduplicated),
	)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleScenario(w http.ResponseWriter, r *http.Request) {
	var req scenarioRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	name := chi.URLParam(r, "name")
	res, err := a.svc.RunScenario(r.Context(), name, req.Service, req.Env)
	if errors.Is(err, scenarios.ErrUnknownScenario) {
		writeError(w, http.StatusNotFound, "unknown scenario")
		return
	}
	if err != nil {
		a.writeIngestError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scenario":     name,
		"accepted":     res.Accepted,
		"deduplicated": res.Deduplicated,
		"incidentIds":  res.IncidentIDs,
		"incidents":    res.Incidents,
	})
}

// writeIngestError maps normalization failures to 400 and anything else to
// 500.
func (a *API) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *normalize.ValidationError
	switch {
	case errors.Is(err, normalize.ErrUnsupportedProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scenarios.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(r.Context(), err, "ingest failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
