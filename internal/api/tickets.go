package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/moutainhigh/messagebus/internal/store"
)

type TicketHandler struct {
	store *store.PostgresStore
}

func NewTicketHandler(s *store.PostgresStore) *TicketHandler {
	return &TicketHandler{store: s}
}

func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app_id")
	code := r.URL.Query().Get("code")
	consumerID := r.URL.Query().Get("consumer_id")
	outstanding := r.URL.Query().Get("outstanding") == "true"
	limit := parseLimit(r, 50)

	tickets, err := h.store.ListTickets(r.Context(), appID, code, consumerID, outstanding, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}

	respondJSON(w, http.StatusOK, tickets)
}

func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ticket, err := h.store.GetTicket(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get ticket")
		return
	}
	if ticket == nil {
		respondError(w, http.StatusNotFound, "ticket not found")
		return
	}

	respondJSON(w, http.StatusOK, ticket)
}
