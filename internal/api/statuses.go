package api

import (
	"net/http"

	"github.com/moutainhigh/messagebus/internal/store"
)

type StatusHandler struct {
	store *store.PostgresStore
}

func NewStatusHandler(s *store.PostgresStore) *StatusHandler {
	return &StatusHandler{store: s}
}

func (h *StatusHandler) List(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app_id")
	messageUUID := r.URL.Query().Get("message_uuid")
	consumerID := r.URL.Query().Get("consumer_id")
	limit := parseLimit(r, 50)

	statuses, err := h.store.ListStatuses(r.Context(), appID, messageUUID, consumerID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list delivery statuses")
		return
	}

	respondJSON(w, http.StatusOK, statuses)
}
