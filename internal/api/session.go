package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/supercoder/internal/artifact"
	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	maxCreateBodySize = 64 * 1024
	// maxAttemptsCeiling bounds what a client may request for one
	// session, keeping runaway budgets off the server.
	maxAttemptsCeiling = 25
	// stopWait is how long Delete waits for a canceled engine to
	// finish before removing rows, so a late save cannot resurrect
	// the session.
	stopWait = 10 * time.Second
)

// deleteLocks prevents concurrent delete requests for the same session.
var deleteLocks sync.Map

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	*Handler
	launcher    *Launcher
	language    string
	executor    string
	maxAttempts int
}

// NewSessionHandler creates a session handler. language, executor, and
// maxAttempts are the server-wide defaults applied to new sessions.
func NewSessionHandler(base *Handler, launcher *Launcher, language, executor string, maxAttempts int) *SessionHandler {
	return &SessionHandler{
		Handler:     base,
		launcher:    launcher,
		language:    language,
		executor:    executor,
		maxAttempts: maxAttempts,
	}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{sessionID}", h.Get)
		r.Get("/{sessionID}/code", h.Code)
		r.Delete("/{sessionID}", h.Delete)
	})
}

type createSessionRequest struct {
	Description string `json:"description"`
	Language    string `json:"language,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// sessionSummary is the listing shape: everything except the heavy
// history and code fields.
type sessionSummary struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Language     string     `json:"language"`
	Executor     string     `json:"executor"`
	State        string     `json:"state"`
	Outcome      string     `json:"outcome,omitempty"`
	FailureClass string     `json:"failure_class,omitempty"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func summarize(s *domain.Session) sessionSummary {
	return sessionSummary{
		ID:           s.ID,
		Description:  s.Description,
		Language:     s.Language,
		Executor:     s.Executor,
		State:        string(s.State),
		Outcome:      string(s.Outcome),
		FailureClass: string(s.FailureClass),
		Attempts:     s.AttemptsUsed(),
		MaxAttempts:  s.MaxAttempts,
		CreatedAt:    s.CreatedAt,
		CompletedAt:  s.CompletedAt,
	}
}

// Create persists a new session and starts its engine asynchronously.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createSessionRequest
	body := http.MaxBytesReader(w, r.Body, maxCreateBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		Error(w, http.StatusBadRequest, "description is required")
		return
	}
	if req.Language != "" && !strings.EqualFold(req.Language, h.language) {
		Error(w, http.StatusBadRequest, "language \""+req.Language+"\" is not enabled on this server")
		return
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = h.maxAttempts
	}
	if maxAttempts < 1 || maxAttempts > maxAttemptsCeiling {
		Error(w, http.StatusBadRequest, "max_attempts out of range")
		return
	}

	s := domain.NewSession(uuid.NewString(), userID, description, h.language, h.executor, maxAttempts)
	if err := h.repo.SaveSession(r.Context(), s); err != nil {
		slog.Error("Failed to persist new session", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to persist session")
		return
	}

	// Summarize before Launch hands the session to the engine goroutine.
	summary := summarize(s)
	if err := h.launcher.Launch(s); err != nil {
		if err == ErrTooManyActive {
			if delErr := h.repo.DeleteSession(r.Context(), s.ID); delErr != nil {
				slog.Warn("Failed to delete unstarted session", "session_id", s.ID, "error", delErr)
			}
			Error(w, http.StatusTooManyRequests, "too many active sessions")
			return
		}
		slog.Error("Failed to launch session", "error", err, "session_id", s.ID)
		Error(w, http.StatusInternalServerError, "failed to launch session")
		return
	}

	slog.Info("Session created", "session_id", s.ID, "user_id", userID, "max_attempts", maxAttempts)
	JSON(w, http.StatusAccepted, summary)
}

// List returns the caller's sessions, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessions, err := h.repo.ListSessions(r.Context(), userID, 50)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, summarize(s))
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": summaries})
}

// Get returns one session with its full attempt history.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess)
}

// Code returns the winning code as plain text, 404 until the session
// has succeeded.
func (h *SessionHandler) Code(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	if sess.Outcome != domain.OutcomeSuccess {
		Error(w, http.StatusNotFound, "session has no winning code")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(sess.FinalCode)); err != nil {
		slog.Debug("Failed to write code response", "error", err)
	}
}

// Delete cancels a running session, removes its rows, and cleans up
// its artifact directory.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Prevent concurrent delete requests for the same session.
	lock, _ := deleteLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		JSON(w, http.StatusOK, map[string]string{"status": "deleting"})
		return
	}
	defer func() {
		mutex.Unlock()
		deleteLocks.Delete(sessionID)
	}()

	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	if h.launcher.Stop(sess.ID, stopWait) {
		slog.Info("Canceled running session for deletion", "session_id", sess.ID)
	}
	h.hub.DropSession(sess.ID)

	if err := h.repo.DeleteSession(r.Context(), sess.ID); err != nil {
		slog.Error("Failed to delete session", "error", err, "session_id", sess.ID)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	dir := h.launcher.ArtifactDir(sess.ID)
	go func() {
		if err := artifact.CleanupDir(dir); err != nil {
			slog.Warn("Failed to remove artifact directory", "dir", dir, "error", err)
		}
	}()

	slog.Info("Session deleted", "session_id", sess.ID)
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

