// Package artifact owns the per-session output file lifecycle: one
// path, overwritten per attempt, removed after failed executions,
// kept with the winning code on success.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const hookTimeout = 30 * time.Second

// Manager handles one session's artifact file.
type Manager struct {
	path          string
	formatCmd     string
	openOnSuccess bool
	logger        *slog.Logger
}

// NewManager builds a manager for the given artifact path. formatCmd
// is an optional external formatter invocation (command plus
// arguments, the path is appended); openOnSuccess opens the file in
// the OS viewer after a successful session.
func NewManager(path, formatCmd string, openOnSuccess bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		path:          path,
		formatCmd:     formatCmd,
		openOnSuccess: openOnSuccess,
		logger:        logger,
	}
}

// Path returns the artifact file path.
func (m *Manager) Path() string { return m.path }

// Write overwrites the artifact with this attempt's code, creating
// parent directories on first use.
func (m *Manager) Write(code string) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(m.path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", m.path, err)
	}
	return nil
}

// Remove deletes the artifact after a failed execution attempt. A
// missing file is fine; generation and extraction failures never
// wrote one.
func (m *Manager) Remove() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", m.path, err)
	}
	return nil
}

// Finalize runs the post-success hooks: the external formatter and
// the viewer. Both are best effort; hook failures are logged and
// never turn a successful session into a failed one.
func (m *Manager) Finalize(ctx context.Context) {
	if m.formatCmd != "" {
		if err := m.format(ctx); err != nil {
			m.logger.Warn("artifact formatter failed", "cmd", m.formatCmd, "error", err)
		}
	}
	if m.openOnSuccess {
		if err := openViewer(m.path); err != nil {
			m.logger.Warn("failed to open artifact in viewer", "path", m.path, "error", err)
		}
	}
}

func (m *Manager) format(ctx context.Context) error {
	parts := strings.Fields(m.formatCmd)
	if len(parts) == 0 {
		return nil
	}
	args := append(parts[1:], m.path)

	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, parts[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", parts[0], err, strings.TrimSpace(string(out)))
	}
	m.logger.Debug("artifact formatted", "cmd", parts[0], "path", m.path)
	return nil
}

// openViewer hands the file to the platform opener without waiting
// for it.
func openViewer(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	// Detach; the viewer outlives the session.
	return cmd.Process.Release()
}

// CleanupDir removes a session's artifact directory entirely. Used
// when a session is deleted.
func CleanupDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove artifact directory %s: %w", dir, err)
	}
	return nil
}
