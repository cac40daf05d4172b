package api

import (
	"errors"
	"testing"
	"time"

	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/events"
)

func newTestLauncher(t *testing.T, repo *fakeRepo, gen *fakeGenerator, maxActive int) *Launcher {
	t.Helper()
	return NewLauncher(gen, okRunner(), repo, events.NewHub(nil), nil, LauncherConfig{
		ArtifactDir:  t.TempDir(),
		ArtifactName: "code_generate.py",
		MaxActive:    maxActive,
	}, nil)
}

func TestLauncherRunsEngineAndReleasesSlot(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{response: "@@D\nprint(1)\n@@D tail"}
	l := newTestLauncher(t, repo, gen, 4)

	s := domain.NewSession("sess-1", "user-1", "print one", "python", "subprocess", 5)
	if err := l.Launch(s); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	waitUntil(t, func() {
		stored := repo.stored("sess-1")
		return stored != nil && stored.State.Terminal()
	}, "engine never flushed a terminal session")
	waitUntil(t, func() { return l.ActiveCount() == 0 }, "slot never released")

	if l.Running("sess-1") {
		t.Error("session still reported running after completion")
	}
	if got := repo.stored("sess-1"); got.Outcome != domain.OutcomeSuccess {
		t.Errorf("outcome = %q, want success", got.Outcome)
	}
}

func TestLauncherEnforcesActiveCap(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{response: "@@D\nprint(1)\n@@D tail", block: make(chan struct{})}
	l := newTestLauncher(t, repo, gen, 1)

	if err := l.Launch(domain.NewSession("sess-1", "u", "one", "python", "subprocess", 5)); err != nil {
		t.Fatalf("first launch failed: %v", err)
	}
	err := l.Launch(domain.NewSession("sess-2", "u", "two", "python", "subprocess", 5))
	if !errors.Is(err, ErrTooManyActive) {
		t.Fatalf("second launch error = %v, want ErrTooManyActive", err)
	}
	if l.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", l.ActiveCount())
	}

	close(gen.block)
	waitUntil(t, func() { return l.ActiveCount() == 0 }, "slot never released")
}

func TestLauncherStopCancelsRunningEngine(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{response: "ignored", block: make(chan struct{})}
	l := newTestLauncher(t, repo, gen, 4)

	s := domain.NewSession("sess-1", "u", "stuck", "python", "subprocess", 5)
	if err := l.Launch(s); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if !l.Running("sess-1") {
		t.Fatal("session not reported running after Launch")
	}

	if !l.Stop("sess-1", 2*time.Second) {
		t.Fatal("Stop returned false for a running session")
	}
	if l.Running("sess-1") {
		t.Error("session still running after Stop")
	}

	stored := repo.stored("sess-1")
	if stored == nil || stored.State != domain.StateFatalAbort {
		t.Errorf("stored state = %+v, want fatal_abort after cancellation", stored)
	}

	if l.Stop("sess-unknown", time.Second) {
		t.Error("Stop reported success for an unknown session")
	}
}

func TestLauncherStopAllFlushesEveryEngine(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{response: "ignored", block: make(chan struct{})}
	l := newTestLauncher(t, repo, gen, 4)

	for _, id := range []string{"sess-a", "sess-b"} {
		if err := l.Launch(domain.NewSession(id, "u", "stuck", "python", "subprocess", 5)); err != nil {
			t.Fatalf("launch %s: %v", id, err)
		}
	}

	l.StopAll(2 * time.Second)

	if n := l.ActiveCount(); n != 0 {
		t.Errorf("active count = %d after StopAll, want 0", n)
	}
	for _, id := range []string{"sess-a", "sess-b"} {
		stored := repo.stored(id)
		if stored == nil || !stored.State.Terminal() {
			t.Errorf("session %s not flushed to a terminal state: %+v", id, stored)
		}
	}
}

func TestLauncherCancelUnknownSession(t *testing.T) {
	l := newTestLauncher(t, newFakeRepo(), &fakeGenerator{}, 4)
	if l.Cancel("nope") {
		t.Error("Cancel reported success for an unknown session")
	}
}
