// Package api provides HTTP handlers for notes, evaluation history, logs and health.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/qmind/internal/memory"
	"github.com/ashureev/qmind/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	notes   *memory.Store
	repo    store.Repository
	logPath string
}

// NewHandler creates a new Handler. logPath is the global conversation log
// served by GET /api/logs.
func NewHandler(notes *memory.Store, repo store.Repository, logPath string) *Handler {
	return &Handler{
		notes:   notes,
		repo:    repo,
		logPath: logPath,
	}
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	Details    string `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// WriteError writes a full error body.
func WriteError(w http.ResponseWriter, status int, body ErrorResponse) {
	JSON(w, status, body)
}
