package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/qmind/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// Prober reports whether the Q CLI can be invoked.
type Prober interface {
	CheckAvailable(ctx context.Context) bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo   store.Repository
	prober Prober
}

// NewHealthHandler creates a new health handler. prober may be nil.
func NewHealthHandler(repo store.Repository, prober Prober) *HealthHandler {
	return &HealthHandler{repo: repo, prober: prober}
}

// Health returns the health status of the API and its dependencies. A missing
// CLI degrades the status; an unreachable database fails it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if h.prober != nil {
		if h.prober.CheckAvailable(ctx) {
			checks["q_cli"] = "ok"
		} else {
			checks["q_cli"] = "unavailable"
			status = "degraded"
		}
	}

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
