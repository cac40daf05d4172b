package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/supercoder/internal/domain"
)

func openTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "supercoder.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func finishedSession(t *testing.T, id, userID string) *domain.Session {
	t.Helper()
	sess := domain.NewSession(id, userID, "gcd of two numbers", "python", "subprocess", 5)
	if err := sess.Record(domain.Attempt{
		Index:          1,
		RequestText:    "Create a python program...",
		RawResponse:    "@@D\nbroken\n@@D",
		ExtractedCode:  "broken",
		DiagnosticText: "NameError: name 'broken' is not defined",
		StartedAt:      time.Now().UTC(),
		Duration:       120 * time.Millisecond,
	}); err != nil {
		t.Fatalf("record attempt 1: %v", err)
	}
	if err := sess.Record(domain.Attempt{
		Index:              2,
		RequestText:        "Your code failed...",
		RawResponse:        "@@D\nprint(42)\n@@D",
		ExtractedCode:      "print(42)",
		ExecutionSucceeded: true,
		StartedAt:          time.Now().UTC(),
		Duration:           80 * time.Millisecond,
	}); err != nil {
		t.Fatalf("record attempt 2: %v", err)
	}
	sess.FinalCode = "print(42)"
	if err := sess.Finish(domain.OutcomeSuccess, ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	return sess
}

func TestSQLiteSaveAndGetRoundtrip(t *testing.T) {
	repo := openTestStore(t)
	ctx := context.Background()

	sess := finishedSession(t, "sess-1", "user-1")
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for a saved session")
	}
	if got.UserID != "user-1" {
		t.Errorf("user = %q, want user-1", got.UserID)
	}
	if got.Description != "gcd of two numbers" {
		t.Errorf("description = %q", got.Description)
	}
	if got.State != domain.StateSuccess {
		t.Errorf("state = %q, want %q", got.State, domain.StateSuccess)
	}
	if got.Outcome != domain.OutcomeSuccess {
		t.Errorf("outcome = %q, want %q", got.Outcome, domain.OutcomeSuccess)
	}
	if got.FinalCode != "print(42)" {
		t.Errorf("final code = %q", got.FinalCode)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not persisted")
	}
	if len(got.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.History))
	}
	first := got.History[0]
	if first.Index != 1 || first.ExecutionSucceeded {
		t.Errorf("attempt 1 = %+v, want failed attempt with index 1", first)
	}
	if first.DiagnosticText != "NameError: name 'broken' is not defined" {
		t.Errorf("attempt 1 diagnostic = %q", first.DiagnosticText)
	}
	if first.Duration != 120*time.Millisecond {
		t.Errorf("attempt 1 duration = %v, want 120ms", first.Duration)
	}
	second := got.History[1]
	if second.Index != 2 || !second.ExecutionSucceeded {
		t.Errorf("attempt 2 = %+v, want successful attempt with index 2", second)
	}
}

func TestSQLiteGetMissingSessionReturnsNil(t *testing.T) {
	repo := openTestStore(t)

	got, err := repo.GetSession(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestSQLiteSavesProgressivelyWithoutDuplicates(t *testing.T) {
	repo := openTestStore(t)
	ctx := context.Background()

	sess := domain.NewSession("sess-prog", "", "counting", "python", "subprocess", 3)
	if err := sess.Record(domain.Attempt{Index: 1, RequestText: "r1", DiagnosticText: "boom", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("mid-session save: %v", err)
	}

	if err := sess.Record(domain.Attempt{Index: 2, RequestText: "r2", ExtractedCode: "print(1)", ExecutionSucceeded: true, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	sess.FinalCode = "print(1)"
	if err := sess.Finish(domain.OutcomeSuccess, ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("final save: %v", err)
	}

	got, err := repo.GetSession(ctx, "sess-prog")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(got.History) != 2 {
		t.Fatalf("history length = %d, want 2 (attempt 1 saved twice)", len(got.History))
	}
	if got.State != domain.StateSuccess {
		t.Errorf("state = %q, want success after final save", got.State)
	}
}

func TestSQLiteAttemptRowsAreImmutable(t *testing.T) {
	repo := openTestStore(t)
	ctx := context.Background()

	sess := domain.NewSession("sess-imm", "", "immutable", "python", "subprocess", 3)
	if err := sess.Record(domain.Attempt{Index: 1, RequestText: "r1", DiagnosticText: "original", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("first save: %v", err)
	}

	sess.History[0].DiagnosticText = "rewritten"
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := repo.GetSession(ctx, "sess-imm")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.History[0].DiagnosticText != "original" {
		t.Errorf("diagnostic = %q, want the first write to stick", got.History[0].DiagnosticText)
	}
}

func TestSQLiteListSessions(t *testing.T) {
	repo := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, tc := range []struct {
		id   string
		user string
	}{
		{"sess-old", "user-a"},
		{"sess-mid", "user-b"},
		{"sess-new", "user-a"},
	} {
		sess := domain.NewSession(tc.id, tc.user, "desc "+tc.id, "python", "subprocess", 5)
		sess.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.SaveSession(ctx, sess); err != nil {
			t.Fatalf("save %s: %v", tc.id, err)
		}
	}

	all, err := repo.ListSessions(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d sessions, want 3", len(all))
	}
	if all[0].ID != "sess-new" || all[2].ID != "sess-old" {
		t.Errorf("order = [%s %s %s], want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	mine, err := repo.ListSessions(ctx, "user-a", 10)
	if err != nil {
		t.Fatalf("ListSessions by user failed: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("got %d sessions for user-a, want 2", len(mine))
	}
	for _, s := range mine {
		if s.UserID != "user-a" {
			t.Errorf("listed session %s belongs to %q", s.ID, s.UserID)
		}
	}

	limited, err := repo.ListSessions(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListSessions with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("got %d sessions with limit 2", len(limited))
	}
}

func TestSQLiteDeleteSession(t *testing.T) {
	repo := openTestStore(t)
	ctx := context.Background()

	sess := finishedSession(t, "sess-del", "user-1")
	if err := repo.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.DeleteSession(ctx, "sess-del"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	got, err := repo.GetSession(ctx, "sess-del")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("session still present after delete: %+v", got)
	}

	// Deleting an absent session is not an error.
	if err := repo.DeleteSession(ctx, "sess-del"); err != nil {
		t.Errorf("second delete = %v, want nil", err)
	}
}

func TestSQLiteExpiredSessions(t *testing.T) {
	repo := openTestStore(t)
	ctx := context.Background()

	stale := finishedSession(t, "sess-stale", "")
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	if err := repo.SaveSession(ctx, stale); err != nil {
		t.Fatalf("save stale: %v", err)
	}

	fresh := finishedSession(t, "sess-fresh", "")
	if err := repo.SaveSession(ctx, fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	// Old but unfinished sessions are never reaped.
	running := domain.NewSession("sess-running", "", "still going", "python", "subprocess", 5)
	running.UpdatedAt = time.Now().Add(-48 * time.Hour)
	if err := repo.SaveSession(ctx, running); err != nil {
		t.Fatalf("save running: %v", err)
	}

	ids, err := repo.ExpiredSessions(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpiredSessions failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "sess-stale" {
		t.Fatalf("expired = %v, want [sess-stale]", ids)
	}
}

func TestIsSQLiteConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", fmt.Errorf("delete attempts: %w", errors.New("SQLITE_BUSY: database is busy")), true},
		{"locked", errors.New("database is locked (5)"), true},
		{"unrelated", errors.New("no such table: sessions"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteConflict(tt.err); got != tt.want {
				t.Errorf("isSQLiteConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSQLiteUserRoundtrip(t *testing.T) {
	repo := openTestStore(t)
	ctx := context.Background()

	missing, err := repo.GetUser(ctx, "anon_nobody")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("got %+v, want nil for unknown user", missing)
	}

	now := time.Now().UTC().Truncate(time.Second)
	user := &domain.User{UserID: "anon_abc123", CreatedAt: now, LastSeenAt: now}
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateLastSeen(ctx, "anon_abc123", later); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}

	got, err := repo.GetUser(ctx, "anon_abc123")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetUser returned nil after upsert")
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("last seen = %v, want %v", got.LastSeenAt, later)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, now)
	}
}
