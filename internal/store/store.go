// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/supercoder/internal/domain"
)

// Repository defines the interface for persisting users, sessions, and
// their attempt histories.
type Repository interface {
	// GetUser retrieves a user by ID. Returns nil without error when
	// the user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// SaveSession upserts a session snapshot together with any attempts
	// not yet stored. Attempts are immutable, so rows already present
	// are left untouched.
	SaveSession(ctx context.Context, s *domain.Session) error

	// GetSession loads a session with its full attempt history.
	// Returns nil without error when the session does not exist.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// ListSessions returns sessions newest first, with histories
	// loaded. An empty userID lists across all users.
	ListSessions(ctx context.Context, userID string, limit int) ([]*domain.Session, error)

	// DeleteSession removes a session and its attempts. Retries
	// internally when the database is briefly locked.
	DeleteSession(ctx context.Context, id string) error

	// ExpiredSessions returns IDs of finished sessions untouched for
	// longer than the retention period.
	ExpiredSessions(ctx context.Context, retention time.Duration) ([]string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
