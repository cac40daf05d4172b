// Package api provides HTTP handlers for the supercoder API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/events"
	"github.com/ashureev/supercoder/internal/identity"
	"github.com/ashureev/supercoder/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler provides common handler dependencies.
type Handler struct {
	repo store.Repository
	hub  *events.Hub
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, hub *events.Hub) *Handler {
	return &Handler{repo: repo, hub: hub}
}

// owned loads the session named in the URL and checks it belongs to
// the caller. Missing and foreign sessions are both a 404.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := identity.UserIDFromContext(r.Context())

	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if sess == nil || sess.UserID != userID {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
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
	JSON(w, status, map[string]string{"error": message})
}
