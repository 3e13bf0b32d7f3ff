package alertapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/linnemanlabs/aitriage/internal/llm"
	"github.com/linnemanlabs/aitriage/internal/report"
)

type chatRequest struct {
	Prompt string `json:"prompt" validate:"required,max=20000"`
	LLM    string `json:"llm" validate:"omitempty,oneof=auto off openai anthropic"`
	Model  string `json:"model" validate:"max=128"`
}

// handleChat answers a free-form prompt as plain text. Unlike reports it
// fails when no provider or quota is available.
func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := llm.ParseMode(req.LLM)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.reports.Chat(r.Context(), report.ChatRequest{
		Prompt:   req.Prompt,
		Mode:     mode,
		Model:    req.Model,
		Identity: clientIdentity(r),
	})
	if res != nil {
		setRateLimitHeaders(w, res.RateLimit)
	}

	var rle *report.RateLimitError
	switch {
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	case errors.Is(err, report.ErrNoProvider):
		writeError(w, http.StatusServiceUnavailable, "no LLM provider is configured")
		return
	case errors.Is(err, report.ErrNarrativeFailed):
		a.logger.Warn(r.Context(), "chat generation failed", "error", err)
		writeError(w, http.StatusBadGateway, "LLM provider error")
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "chat failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("X-LLM-Provider", res.Provider)
	w.Header().Set("X-LLM-Model", res.Model)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(res.Text + "\n"))
}
