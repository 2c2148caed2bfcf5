// Package handlers provides HTTP handlers for the scribe API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
)

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body; the real error goes to the log,
// not the client.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case apperror.IsValidation(err):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case apperror.IsNotFound(err):
		jsonError(w, err.Error(), http.StatusNotFound)
	case apperror.IsConflict(err):
		jsonError(w, err.Error(), http.StatusConflict)
	case apperror.IsExternal(err):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}
