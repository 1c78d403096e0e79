package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/moutainhigh/messagebus/internal/engine"
)

// CompensateHandler exposes the sweep+compensate cycle to an external
// scheduler. Cadence lives outside the process; these endpoints run one pass
// synchronously and report per-unit outcomes.
type CompensateHandler struct {
	orchestrator *engine.Orchestrator
	configs      engine.ConfigProvider
}

func NewCompensateHandler(o *engine.Orchestrator, configs engine.ConfigProvider) *CompensateHandler {
	return &CompensateHandler{orchestrator: o, configs: configs}
}

// Run executes one full pass over every configured app and message type.
func (h *CompensateHandler) Run(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.orchestrator.CheckAndCompensate(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to run compensation pass")
		return
	}

	if outcomes == nil {
		outcomes = []engine.UnitOutcome{}
	}
	respondJSON(w, http.StatusOK, outcomes)
}

// RunType executes one pass for a single (app, message type) unit.
func (h *CompensateHandler) RunType(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	code := chi.URLParam(r, "code")

	appConfig, err := h.configs.GetAppConfig(r.Context(), appID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load app config")
		return
	}
	if appConfig == nil {
		respondError(w, http.StatusNotFound, "app config not found")
		return
	}

	msgConfig := appConfig.MessageConfig(code)
	if msgConfig == nil {
		respondError(w, http.StatusNotFound, "message type not configured")
		return
	}

	outcome := h.orchestrator.CheckAndCompensateType(r.Context(), appID, msgConfig)
	respondJSON(w, http.StatusOK, outcome)
}
