package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/supercoder/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		description TEXT NOT NULL,
		language TEXT NOT NULL,
		executor TEXT NOT NULL,
		max_attempts INTEGER NOT NULL,
		state TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		failure_class TEXT NOT NULL DEFAULT '',
		final_code TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(updated_at) WHERE completed_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS attempts (
		session_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		request_text TEXT NOT NULL,
		raw_response TEXT NOT NULL DEFAULT '',
		extracted_code TEXT NOT NULL DEFAULT '',
		execution_succeeded INTEGER NOT NULL DEFAULT 0,
		diagnostic_text TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, idx)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT user_id, created_at, last_seen_at FROM users WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var createdAt, lastSeen int64
	err := row.Scan(&user.UserID, &createdAt, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.LastSeenAt = time.Unix(lastSeen, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, created_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.CreatedAt.Unix(), user.LastSeenAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// SaveSession upserts the session row and inserts any attempts not yet
// stored. Attempt rows are immutable; conflicts are ignored.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completedAt interface{}
	if sess.CompletedAt != nil {
		completedAt = sess.CompletedAt.Unix()
	}

	query := `
	INSERT INTO sessions (id, user_id, description, language, executor, max_attempts,
		state, outcome, failure_class, final_code, created_at, updated_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		outcome = excluded.outcome,
		failure_class = excluded.failure_class,
		final_code = excluded.final_code,
		updated_at = excluded.updated_at,
		completed_at = excluded.completed_at`

	_, err = tx.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.Description, sess.Language, sess.Executor, sess.MaxAttempts,
		string(sess.State), string(sess.Outcome), string(sess.FailureClass), sess.FinalCode,
		sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	attemptQuery := `
	INSERT OR IGNORE INTO attempts (session_id, idx, request_text, raw_response,
		extracted_code, execution_succeeded, diagnostic_text, started_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, a := range sess.History {
		succeeded := 0
		if a.ExecutionSucceeded {
			succeeded = 1
		}
		_, err = tx.ExecContext(ctx, attemptQuery,
			sess.ID, a.Index, a.RequestText, a.RawResponse,
			a.ExtractedCode, succeeded, a.DiagnosticText,
			a.StartedAt.Unix(), a.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert attempt %d: %w", a.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session save: %w", err)
	}
	return nil
}

// GetSession loads a session with its full attempt history.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
	SELECT id, user_id, description, language, executor, max_attempts,
	       state, outcome, failure_class, final_code, created_at, updated_at, completed_at
	FROM sessions WHERE id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if err := s.loadAttempts(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns sessions newest first with histories loaded.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
	SELECT id, user_id, description, language, executor, max_attempts,
	       state, outcome, failure_class, final_code, created_at, updated_at, completed_at
	FROM sessions`
	args := []interface{}{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for _, sess := range sessions {
		if err := s.loadAttempts(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// DeleteSession removes a session and its attempts, retrying with
// exponential backoff when the database is briefly locked.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteSessionOnce(ctx, id)
		if err == nil {
			return nil
		}

		if isSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
			slog.Debug("DeleteSession hit a locked database, retrying",
				"session_id", id,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("failed to delete session %s after %d attempts: %w", id, i+1, err)
	}

	return nil
}

// isSQLiteConflict reports whether err is one of SQLite's transient
// concurrency failures, the shapes modernc.org/sqlite surfaces when
// another connection holds the write lock.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, id string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete attempts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return tx.Commit()
}

// ExpiredSessions returns IDs of finished sessions whose last update is
// older than the retention period.
func (s *SQLiteStore) ExpiredSessions(ctx context.Context, retention time.Duration) ([]string, error) {
	threshold := time.Now().Add(-retention).Unix()
	query := `SELECT id FROM sessions WHERE completed_at IS NOT NULL AND updated_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired session rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var state, outcome, failureClass string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Description, &sess.Language, &sess.Executor,
		&sess.MaxAttempts, &state, &outcome, &failureClass, &sess.FinalCode,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.State = domain.SessionState(state)
	sess.Outcome = domain.Outcome(outcome)
	sess.FailureClass = domain.FailureClass(failureClass)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		sess.CompletedAt = &ts
	}
	return &sess, nil
}

func (s *SQLiteStore) loadAttempts(ctx context.Context, sess *domain.Session) error {
	query := `
	SELECT idx, request_text, raw_response, extracted_code,
	       execution_succeeded, diagnostic_text, started_at, duration_ms
	FROM attempts WHERE session_id = ? ORDER BY idx`

	rows, err := s.db.QueryContext(ctx, query, sess.ID)
	if err != nil {
		return fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close attempt rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var a domain.Attempt
		var succeeded int
		var startedAt, durationMS int64
		if err := rows.Scan(
			&a.Index, &a.RequestText, &a.RawResponse, &a.ExtractedCode,
			&succeeded, &a.DiagnosticText, &startedAt, &durationMS,
		); err != nil {
			return fmt.Errorf("scan attempt row: %w", err)
		}
		a.ExecutionSucceeded = succeeded == 1
		a.StartedAt = time.Unix(startedAt, 0)
		a.Duration = time.Duration(durationMS) * time.Millisecond
		sess.History = append(sess.History, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attempts: %w", err)
	}
	return nil
}
