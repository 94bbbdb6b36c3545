package api

import (
	"net/http"

	"github.com/nla-consultoria/leadrelay/internal/models"
	"github.com/nla-consultoria/leadrelay/internal/storage"
)

type FailureHandler struct {
	store    storage.Storage
	replayer Replayer
}

func NewFailureHandler(store storage.Storage, replayer Replayer) *FailureHandler {
	return &FailureHandler{store: store, replayer: replayer}
}

func (h *FailureHandler) List(w http.ResponseWriter, r *http.Request) {
	failures, err := h.store.ListFailures(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list failed deliveries")
		return
	}
	if failures == nil {
		failures = []models.FailedDelivery{}
	}
	writeJSON(w, http.StatusOK, failures)
}

func (h *FailureHandler) Replay(w http.ResponseWriter, r *http.Request) {
	res, err := h.replayer.ReplayFailures(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to replay deliveries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
