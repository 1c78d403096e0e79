package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/moutainhigh/messagebus/internal/bus"
	"github.com/moutainhigh/messagebus/internal/engine"
	"github.com/moutainhigh/messagebus/internal/store"
)

type MessageHandler struct {
	store     *store.PostgresStore
	publisher *bus.Publisher
}

func NewMessageHandler(s *store.PostgresStore, p *bus.Publisher) *MessageHandler {
	return &MessageHandler{store: s, publisher: p}
}

func (h *MessageHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req bus.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Body != "" && !json.Valid([]byte(req.Body)) {
		respondError(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}
	if req.IP == "" {
		req.IP = r.RemoteAddr
	}

	result, err := h.publisher.Publish(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidArgument) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to publish message")
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	msg, err := h.store.GetMessage(r.Context(), uuid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if msg == nil {
		respondError(w, http.StatusNotFound, "message not found")
		return
	}

	respondJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app_id")
	code := r.URL.Query().Get("code")
	limit := parseLimit(r, 50)

	messages, err := h.store.ListMessages(r.Context(), appID, code, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	respondJSON(w, http.StatusOK, messages)
}

func parseLimit(r *http.Request, fallback int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return fallback
	}
	if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
		return n
	}
	return fallback
}
