package alertapi

import (
	"net/http"
	"strings"
)

type resetRequest struct {
	Identity string `validate:"required,max=256,printascii"`
}

// handleRateLimitReset clears the quota window for ?identity=.
func (a *API) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	req := resetRequest{Identity: strings.TrimSpace(r.URL.Query().Get("identity"))}
	if err := validationError(validate.Struct(req)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.limiter.Reset(r.Context(), req.Identity); err != nil {
		a.logger.Error(r.Context(), err, "rate limit reset failed", "identity", req.Identity)
		writeError(w, http.StatusServiceUnavailable, "rate limit store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": req.Identity,
		"reset":    true,
	})
}
