// Package transcript records every generation exchange as NDJSON, one
// file per session, for later review of what was asked and answered.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 256

// Config controls transcript recording.
type Config struct {
	// Enabled turns recording on. A disabled logger accepts entries
	// and discards them.
	Enabled bool
	// Dir is the root directory; entries land in
	// <dir>/<user_id>/<session_id>.ndjson.
	Dir string
	// GlobalFile, when set, additionally receives every entry.
	GlobalFile string
	// QueueSize bounds the async queue. Zero means the default.
	QueueSize int
}

// Entry is one transcript line. Content holds ContentRaw with terminal
// escape sequences stripped for readability.
type Entry struct {
	Timestamp  time.Time `json:"ts"`
	UserID     string    `json:"user_id,omitempty"`
	SessionID  string    `json:"session_id"`
	Attempt    int       `json:"attempt,omitempty"`
	Direction  string    `json:"direction"`
	Kind       string    `json:"kind"`
	ContentRaw string    `json:"content_raw"`
	Content    string    `json:"content"`
}

// Logger writes entries asynchronously. When the queue is full the
// entry is dropped rather than stalling the retry loop.
type Logger struct {
	cfg     Config
	logger  *slog.Logger
	queue   chan Entry
	global  *os.File
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// NewLogger starts the writer goroutine. A disabled config returns a
// logger whose Log is a no-op.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return l, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript enabled without a directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.GlobalFile != "" {
		f, err := os.OpenFile(cfg.GlobalFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open global transcript: %w", err)
		}
		l.global = f
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	l.queue = make(chan Entry, size)
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

// Log enqueues an entry. Never blocks.
func (l *Logger) Log(e Entry) {
	if l == nil || l.queue == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case l.queue <- e:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Transcript queue full, dropping entries", "dropped", n)
		}
	}
}

// Close drains the queue and closes open files.
func (l *Logger) Close() error {
	if l == nil || l.queue == nil {
		return nil
	}
	l.once.Do(func() { close(l.queue) })
	l.wg.Wait()
	if l.global != nil {
		return l.global.Close()
	}
	return nil
}

// Dropped reports how many entries were discarded because the queue
// was full.
func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for e := range l.queue {
		e.Content = cleanForReadability(e.ContentRaw)
		line, err := json.Marshal(e)
		if err != nil {
			l.logger.Warn("Failed to marshal transcript entry", "error", err)
			continue
		}
		line = append(line, '\n')
		if err := l.appendSessionLine(e, line); err != nil {
			l.logger.Warn("Failed to write transcript", "session_id", e.SessionID, "error", err)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Failed to write global transcript", "error", err)
			}
		}
	}
}

func (l *Logger) appendSessionLine(e Entry, line []byte) error {
	user := e.UserID
	if user == "" {
		user = "anonymous"
	}
	dir := filepath.Join(l.cfg.Dir, user)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, e.SessionID+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// cleanForReadability strips ANSI escape sequences and carriage
// returns so transcript lines read cleanly in a pager.
func cleanForReadability(raw string) string {
	clean := ansiPattern.ReplaceAllString(raw, "")
	return strings.ReplaceAll(clean, "\r", "")
}
