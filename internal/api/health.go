package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/supercoder/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports whether an execution backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo     store.Repository
	executor Pinger // nil when the active executor has no backend to probe
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, executor Pinger) *HealthHandler {
	return &HealthHandler{repo: repo, executor: executor}
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Health)
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "check", "database", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.executor != nil {
		if err := h.executor.Ping(ctx); err != nil {
			slog.Error("Health check failed", "check", "executor", "error", err)
			checks["executor"] = "unreachable"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["executor"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
