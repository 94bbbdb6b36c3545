package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nla-consultoria/leadrelay/internal/models"
	"github.com/nla-consultoria/leadrelay/internal/storage"
)

type DeliveryHandler struct {
	store storage.Storage
}

func NewDeliveryHandler(store storage.Storage) *DeliveryHandler {
	return &DeliveryHandler{store: store}
}

// ListAttempts returns every HTTP attempt made for one idempotency token,
// across the original send and any replays.
func (h *DeliveryHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	attempts, err := h.store.GetAttemptsByToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get attempts")
		return
	}
	if attempts == nil {
		attempts = []models.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}
