package api

import (
	"encoding/json"
	"net/http"

	"github.com/nla-consultoria/leadrelay/internal/models"
)

type errorResponse struct {
	Error string       `json:"error"`
	Field models.Field `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
