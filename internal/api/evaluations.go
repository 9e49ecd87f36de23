package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultEvaluationLimit = 20
	maxEvaluationLimit     = 200
)

// RegisterEvaluationRoutes registers the evaluation history endpoints.
func (h *Handler) RegisterEvaluationRoutes(r chi.Router) {
	r.Get("/api/evaluations", h.ListEvaluations)
	r.Get("/api/evaluations/{id}", h.GetEvaluation)
}

// ListEvaluations returns the newest finished assessments.
func (h *Handler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	limit := defaultEvaluationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEvaluationLimit)
	}

	evals, err := h.repo.ListEvaluations(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list evaluations", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list evaluations")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"evaluations": evals,
	})
}

// GetEvaluation returns one evaluation by id.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	eval, err := h.repo.GetEvaluation(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load evaluation", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load evaluation")
		return
	}
	if eval == nil {
		Error(w, http.StatusNotFound, "evaluation not found")
		return
	}
	JSON(w, http.StatusOK, eval)
}
