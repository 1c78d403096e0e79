package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/moutainhigh/messagebus/internal/domain"
	"github.com/moutainhigh/messagebus/internal/store"
)

type ConfigHandler struct {
	store *store.PostgresStore
}

func NewConfigHandler(s *store.PostgresStore) *ConfigHandler {
	return &ConfigHandler{store: s}
}

func (h *ConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.AppConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.AppID == "" {
		respondError(w, http.StatusBadRequest, "app_id is required")
		return
	}
	if len(req.MessageConfigs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one message config is required")
		return
	}
	for _, mc := range req.MessageConfigs {
		if mc.Code == "" {
			respondError(w, http.StatusBadRequest, "every message config needs a code")
			return
		}
		for _, cb := range mc.Callbacks {
			if cb.Key == "" || cb.URL == "" {
				respondError(w, http.StatusBadRequest, "every callback needs a key and a url")
				return
			}
		}
	}

	if err := h.store.CreateAppConfig(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create app config")
		return
	}

	// Generated secrets ride back in the response; this is the only place
	// they are handed out.
	respondJSON(w, http.StatusCreated, req)
}

func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.GetAllAppConfigs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list app configs")
		return
	}

	respondJSON(w, http.StatusOK, apps)
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	app, err := h.store.GetAppConfig(r.Context(), appID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get app config")
		return
	}
	if app == nil {
		respondError(w, http.StatusNotFound, "app config not found")
		return
	}

	respondJSON(w, http.StatusOK, app)
}

type updateCallbackRequest struct {
	URL                *string `json:"url,omitempty"`
	Enable             *bool   `json:"enable,omitempty"`
	RateLimitPerSecond *int    `json:"rate_limit_per_second,omitempty"`
}

func (h *ConfigHandler) UpdateCallback(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	code := chi.URLParam(r, "code")
	consumerID := chi.URLParam(r, "consumerID")

	var req updateCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.store.UpdateCallbackConfig(r.Context(), appID, code, consumerID, req.URL, req.Enable, req.RateLimitPerSecond)
	if err != nil {
		respondError(w, http.StatusNotFound, "callback not found")
		return
	}

	app, err := h.store.GetAppConfig(r.Context(), appID)
	if err != nil || app == nil {
		respondError(w, http.StatusInternalServerError, "failed to reload app config")
		return
	}

	respondJSON(w, http.StatusOK, app)
}
