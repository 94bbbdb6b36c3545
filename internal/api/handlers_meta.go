package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nla-consultoria/leadrelay/internal/meta"
)

const pageViewEvent = "PageView"

type MetaHandler struct {
	sender    ConversionSender
	pageViews PageViewGuard
	log       zerolog.Logger
}

func NewMetaHandler(sender ConversionSender, pageViews PageViewGuard, log zerolog.Logger) *MetaHandler {
	return &MetaHandler{sender: sender, pageViews: pageViews, log: log}
}

type metaEventResponse struct {
	Success    bool `json:"success"`
	Duplicated bool `json:"duplicated,omitempty"`
}

// Receive forwards a browser-reported conversion event to the Conversions
// API. Forwarding errors are logged and never surface to the page.
func (h *MetaHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		writeError(w, http.StatusBadRequest, "Invalid content-type")
		return
	}

	var in meta.IncomingEvent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	ev, err := in.ToEvent(clientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, meta.ErrMissingEventName) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid event")
		return
	}

	if ev.Name == pageViewEvent && h.pageViews != nil && !h.pageViews.First(r.Context(), in.PageLoadID) {
		writeJSON(w, http.StatusOK, metaEventResponse{Success: true, Duplicated: true})
		return
	}

	if h.sender != nil {
		if err := h.sender.Send(r.Context(), ev); err != nil {
			h.log.Warn().Err(err).Str("event", ev.Name).Str("event_id", ev.ID).Msg("conversion event not forwarded")
		}
	}
	writeJSON(w, http.StatusOK, metaEventResponse{Success: true})
}

// clientIP is the first X-Forwarded-For hop, or the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
