package api

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/supercoder/internal/artifact"
	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/engine"
	"github.com/ashureev/supercoder/internal/events"
	"github.com/ashureev/supercoder/internal/llm"
	"github.com/ashureev/supercoder/internal/prompt"
	"github.com/ashureev/supercoder/internal/runner"
	"github.com/ashureev/supercoder/internal/store"
	"github.com/ashureev/supercoder/internal/transcript"
)

// ErrTooManyActive is returned by Launch when the concurrent session
// cap is reached.
var ErrTooManyActive = errors.New("too many active sessions")

// LauncherConfig carries the per-session assembly settings.
type LauncherConfig struct {
	// ArtifactDir is the root under which each session gets its own
	// artifact directory.
	ArtifactDir string
	// ArtifactName is the filename written inside a session's
	// artifact directory.
	ArtifactName string
	// FormatCmd optionally reformats winning code.
	FormatCmd string
	// MaxActive caps concurrently running engines.
	MaxActive int
}

type runningSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Launcher starts one engine per session in the background and tracks
// the running set so sessions can be canceled and capped.
type Launcher struct {
	gen        llm.Generator
	run        runner.Runner
	repo       store.Repository
	hub        *events.Hub
	transcript *transcript.Logger
	cfg        LauncherConfig
	logger     *slog.Logger

	mu     sync.Mutex
	active map[string]*runningSession
}

// NewLauncher assembles a launcher. transcriptLog may be nil.
func NewLauncher(gen llm.Generator, run runner.Runner, repo store.Repository, hub *events.Hub, transcriptLog *transcript.Logger, cfg LauncherConfig, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 4
	}
	return &Launcher{
		gen:        gen,
		run:        run,
		repo:       repo,
		hub:        hub,
		transcript: transcriptLog,
		cfg:        cfg,
		logger:     logger,
		active:     make(map[string]*runningSession),
	}
}

// ArtifactDir returns the artifact directory of one session.
func (l *Launcher) ArtifactDir(sessionID string) string {
	return filepath.Join(l.cfg.ArtifactDir, sessionID)
}

// ActiveCount reports how many engines are currently running.
func (l *Launcher) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Running reports whether a session's engine is still running.
func (l *Launcher) Running(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[sessionID]
	return ok
}

// Launch starts the engine for a session in a background goroutine.
// The session must already be persisted; its terminal result lands in
// the store when the run ends.
func (l *Launcher) Launch(s *domain.Session) error {
	l.mu.Lock()
	if len(l.active) >= l.cfg.MaxActive {
		l.mu.Unlock()
		return ErrTooManyActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{cancel: cancel, done: make(chan struct{})}
	l.active[s.ID] = rs
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			delete(l.active, s.ID)
			l.mu.Unlock()
			cancel()
			close(rs.done)
		}()

		// Server-side runs never open a viewer.
		art := artifact.NewManager(
			filepath.Join(l.ArtifactDir(s.ID), l.cfg.ArtifactName),
			l.cfg.FormatCmd, false, l.logger)

		eng := engine.New(l.gen, l.run, art, prompt.NewComposer(s.Language), engine.Options{
			Sink:       l.hub,
			Saver:      l.repo,
			Transcript: l.transcript,
			Logger:     l.logger,
		})
		if err := eng.Run(ctx, s); err != nil {
			l.logger.Info("Session run ended with failure", "session_id", s.ID, "error", err)
		}
	}()

	return nil
}

// Cancel signals a running session to stop. Returns false when the
// session is not running.
func (l *Launcher) Cancel(sessionID string) bool {
	l.mu.Lock()
	rs, ok := l.active[sessionID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	rs.cancel()
	return true
}

// StopAll cancels every running session and waits up to wait in total
// for the engines to flush their terminal state.
func (l *Launcher) StopAll(wait time.Duration) {
	l.mu.Lock()
	running := make([]*runningSession, 0, len(l.active))
	for _, rs := range l.active {
		rs.cancel()
		running = append(running, rs)
	}
	l.mu.Unlock()

	deadline := time.After(wait)
	for _, rs := range running {
		select {
		case <-rs.done:
		case <-deadline:
			l.logger.Warn("Timed out waiting for active sessions to stop")
			return
		}
	}
}

// Stop cancels a running session and waits up to wait for its engine
// goroutine to finish, so callers can safely delete its rows.
func (l *Launcher) Stop(sessionID string, wait time.Duration) bool {
	l.mu.Lock()
	rs, ok := l.active[sessionID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	rs.cancel()
	select {
	case <-rs.done:
	case <-time.After(wait):
		l.logger.Warn("Timed out waiting for session to stop", "session_id", sessionID)
	}
	return true
}
