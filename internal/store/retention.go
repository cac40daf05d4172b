package store

import (
	"context"
	"log/slog"
	"time"
)

// CleanupCallback is called for each session removed by the retention
// worker, before its rows are deleted.
type CleanupCallback func(sessionID string)

// StartRetentionWorker runs a background goroutine that periodically
// sweeps finished sessions older than the retention period.
func StartRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweepExpiredSessions(ctx, repo, retention, onCleanup)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredSessions(ctx context.Context, repo Repository, retention time.Duration, onCleanup CleanupCallback) {
	ids, err := repo.ExpiredSessions(ctx, retention)
	if err != nil {
		slog.Error("Retention worker failed to list expired sessions", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	slog.Info("Retention worker found expired sessions", "count", len(ids))

	cleaned := 0
	for _, id := range ids {
		if onCleanup != nil {
			onCleanup(id)
		}
		if err := repo.DeleteSession(ctx, id); err != nil {
			slog.Warn("Retention worker failed to delete session", "session_id", id, "error", err)
			continue
		}
		cleaned++
	}

	slog.Info("Retention worker cleanup completed", "cleaned", cleaned)
}
