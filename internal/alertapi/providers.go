package alertapi

import (
	"cmp"
	"net/http"
	"slices"
	"strings"

	"github.com/linnemanlabs/aitriage/internal/llm"
)

type weightsRequest struct {
	Weights map[string]float64 `json:"weights" validate:"required,min=1,dive,keys,required,max=32,endkeys,gte=0"`
}

type providersResponse struct {
	Providers []providerView `json:"providers"`
	AutoOrder []string       `json:"autoOrder"`
}

type providerView struct {
	llm.ProviderInfo
	Models []string `json:"models,omitempty"`
}

func (a *API) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.providerSnapshot(r, false))
}

// handleModels is handleProviders plus each available provider's models.
func (a *API) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.providerSnapshot(r, true))
}

func (a *API) handleWeights(w http.ResponseWriter, r *http.Request) {
	var req weightsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	clean := make(map[string]float64, len(req.Weights))
	for name, v := range req.Weights {
		clean[strings.ToLower(strings.TrimSpace(name))] = v
	}
	if err := a.providers.SetWeights(clean); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.logger.Info(r.Context(), "llm weights updated", "weights", llm.FormatWeights(clean))
	writeJSON(w, http.StatusOK, a.providerSnapshot(r, false))
}

func (a *API) providerSnapshot(r *http.Request, withModels bool) providersResponse {
	infos := a.providers.Info()
	resp := providersResponse{Providers: make([]providerView, 0, len(infos)), AutoOrder: []string{}}

	for _, info := range infos {
		v := providerView{ProviderInfo: info}
		if withModels && info.Available {
			if p, ok := a.providers.Provider(info.Name); ok {
				if ml, ok := p.(llm.ModelLister); ok {
					models, err := ml.Models(r.Context())
					if err != nil {
						a.logger.Warn(r.Context(), "model listing failed", "provider", info.Name, "error", err)
					}
					v.Models = models
				}
			}
		}
		resp.Providers = append(resp.Providers, v)
	}

	auto := make([]llm.ProviderInfo, 0, len(infos))
	for _, info := range infos {
		if info.Available && info.Weight > 0 {
			auto = append(auto, info)
		}
	}
	slices.SortStableFunc(auto, func(x, y llm.ProviderInfo) int {
		if c := cmp.Compare(y.Weight, x.Weight); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})
	for _, info := range auto {
		resp.AutoOrder = append(resp.AutoOrder, info.Name)
	}
	return resp
}
