package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/funnel"
	"github.com/nla-consultoria/leadrelay/internal/models"
)

type FunnelHandler struct {
	funnel Funnel
	log    zerolog.Logger
}

func NewFunnelHandler(f Funnel, log zerolog.Logger) *FunnelHandler {
	return &FunnelHandler{funnel: f, log: log}
}

type openSessionRequest struct {
	SessionID string `json:"session_id"`
	Variant   string `json:"variant"`
}

type setFieldRequest struct {
	Value string `json:"value"`
}

// Open accepts an empty body, which starts a new session on the default variant.
func (h *FunnelHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.funnel.Open(r.Context(), req.SessionID, req.Variant)
	if err != nil {
		h.writeFunnelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *FunnelHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.funnel.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFunnelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *FunnelHandler) SetField(w http.ResponseWriter, r *http.Request) {
	field, ok := models.ParseField(chi.URLParam(r, "field"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown field")
		return
	}

	var req setFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.funnel.SetField(r.Context(), chi.URLParam(r, "id"), field, req.Value)
	if err != nil {
		h.writeFunnelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *FunnelHandler) Focus(w http.ResponseWriter, r *http.Request) {
	field, ok := models.ParseField(chi.URLParam(r, "field"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown field")
		return
	}

	view, err := h.funnel.Focus(r.Context(), chi.URLParam(r, "id"), field)
	if err != nil {
		h.writeFunnelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *FunnelHandler) Next(w http.ResponseWriter, r *http.Request) {
	view, err := h.funnel.Next(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFunnelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *FunnelHandler) Back(w http.ResponseWriter, r *http.Request) {
	view, err := h.funnel.Back(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFunnelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *FunnelHandler) Submit(w http.ResponseWriter, r *http.Request) {
	res, err := h.funnel.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFunnelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *FunnelHandler) Reset(w http.ResponseWriter, r *http.Request) {
	view, err := h.funnel.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFunnelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *FunnelHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.funnel.Abandon(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeFunnelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FunnelHandler) writeFunnelError(w http.ResponseWriter, err error) {
	var verr *funnel.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.Is(err, funnel.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, funnel.ErrUnknownField):
		writeError(w, http.StatusBadRequest, "unknown field")
	case errors.Is(err, funnel.ErrLastStep):
		writeError(w, http.StatusConflict, "already at the last step")
	case errors.Is(err, funnel.ErrSubmitFailed):
		writeError(w, http.StatusBadGateway, funnel.SubmitFailedMessage)
	default:
		h.log.Error().Err(err).Msg("funnel request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
