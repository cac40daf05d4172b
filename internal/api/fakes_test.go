package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/llm"
	"github.com/ashureev/supercoder/internal/runner"
)

type fakeRepo struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	sessions map[string]*domain.Session
	saveErr  error
	pingErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    make(map[string]*domain.User),
		sessions: make(map[string]*domain.Session),
	}
}

func copySession(s *domain.Session) *domain.Session {
	cp := *s
	cp.History = append(domain.AttemptHistory(nil), s.History...)
	if s.CompletedAt != nil {
		ts := *s.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *user
	f.users[user.UserID] = &cp
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) SaveSession(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.sessions[s.ID] = copySession(s)
	return nil
}

func (f *fakeRepo) GetSession(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	if s == nil {
		return nil, nil
	}
	return copySession(s), nil
}

func (f *fakeRepo) ListSessions(_ context.Context, userID string, limit int) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Session
	for _, s := range f.sessions {
		if userID != "" && s.UserID != userID {
			continue
		}
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeRepo) ExpiredSessions(_ context.Context, _ time.Duration) ([]string, error) {
	return nil, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error                 { return nil }

func (f *fakeRepo) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeRepo) stored(id string) *domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	if s == nil {
		return nil
	}
	return copySession(s)
}

// fakeGenerator answers every request with one canned response. When
// block is set, Generate waits until the channel closes or the context
// ends, which keeps a launched engine occupying its active slot.
type fakeGenerator struct {
	response string
	err      error
	block    chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, _ llm.Request) (string, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

type fakeRunner struct {
	mu     sync.Mutex
	result runner.Result
	runs   int
}

func okRunner() *fakeRunner {
	return &fakeRunner{result: runner.Result{Succeeded: true}}
}

func (r *fakeRunner) Run(_ context.Context, _, _ string) (runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	return r.result, nil
}

func (r *fakeRunner) Name() string { return "fake" }

type fakePinger struct{ err error }

func (p *fakePinger) Ping(_ context.Context) error { return p.err }
