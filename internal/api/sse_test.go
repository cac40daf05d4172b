package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/supercoder/internal/domain"
	"github.com/ashureev/supercoder/internal/events"
	"github.com/go-chi/chi/v5"
)

func newSSEStack(t *testing.T, limit int) (*SSEHandler, *events.Hub, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	hub := events.NewHub(nil)
	limiter := NewRateLimiter(limit, time.Minute)
	t.Cleanup(limiter.Stop)
	return NewSSEHandler(NewHandler(repo, hub), limiter), hub, repo
}

func serveSSE(h *SSEHandler, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/sessions/{sessionID}/events", h.Stream)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func finishedStoredSession(t *testing.T, repo *fakeRepo, id, userID string) {
	t.Helper()
	s := domain.NewSession(id, userID, "done", "python", "subprocess", 5)
	if err := s.Finish(domain.OutcomeSuccess, ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveSession(context.Background(), s); err != nil {
		t.Fatal(err)
	}
}

func TestStreamReplaysFinishedSession(t *testing.T) {
	h, hub, repo := newSSEStack(t, 10)
	finishedStoredSession(t, repo, "sess-1", "user-a")

	hub.Publish(events.Event{SessionID: "sess-1", Type: events.TypeSessionStarted})
	hub.Publish(events.Event{SessionID: "sess-1", Type: events.TypeCodeExtracted, Attempt: 1, Code: "print(1)"})
	hub.Publish(events.Event{SessionID: "sess-1", Type: events.TypeSessionFinished, Outcome: "success"})

	rr := serveSSE(h, authedRequest(http.MethodGet, "/sessions/sess-1/events", nil, "user-a"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "retry: 5000\n") {
		t.Errorf("body missing retry hint:\n%s", body)
	}
	if !strings.Contains(body, "event: connected\n") {
		t.Errorf("body missing connected event:\n%s", body)
	}
	for _, typ := range []string{"session_started", "code_extracted", "session_finished"} {
		if !strings.Contains(body, "event: "+typ+"\n") {
			t.Errorf("body missing replayed %s event:\n%s", typ, body)
		}
	}
}

func TestStreamResumesAfterLastEventID(t *testing.T) {
	h, hub, repo := newSSEStack(t, 10)
	finishedStoredSession(t, repo, "sess-1", "user-a")

	// A fresh hub numbers these 1 and 2.
	hub.Publish(events.Event{SessionID: "sess-1", Type: events.TypeSessionStarted})
	hub.Publish(events.Event{SessionID: "sess-1", Type: events.TypeSessionFinished})

	req := authedRequest(http.MethodGet, "/sessions/sess-1/events", nil, "user-a")
	req.Header.Set("Last-Event-ID", "1")
	rr := serveSSE(h, req)

	body := rr.Body.String()
	if strings.Contains(body, "event: session_started\n") {
		t.Errorf("already-seen event replayed:\n%s", body)
	}
	if !strings.Contains(body, "event: session_finished\n") {
		t.Errorf("body missing events after resume point:\n%s", body)
	}
}

func TestStreamUnknownSessionIs404(t *testing.T) {
	h, _, _ := newSSEStack(t, 10)

	rr := serveSSE(h, authedRequest(http.MethodGet, "/sessions/nope/events", nil, "user-a"))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestStreamForeignSessionIs404(t *testing.T) {
	h, _, repo := newSSEStack(t, 10)
	finishedStoredSession(t, repo, "sess-1", "user-a")

	rr := serveSSE(h, authedRequest(http.MethodGet, "/sessions/sess-1/events", nil, "user-b"))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestStreamRateLimited(t *testing.T) {
	h, _, repo := newSSEStack(t, 1)
	finishedStoredSession(t, repo, "sess-1", "user-a")

	first := serveSSE(h, authedRequest(http.MethodGet, "/sessions/sess-1/events", nil, "user-a"))
	if first.Code != http.StatusOK {
		t.Fatalf("first stream status = %d, want 200", first.Code)
	}

	second := serveSSE(h, authedRequest(http.MethodGet, "/sessions/sess-1/events", nil, "user-a"))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second stream status = %d, want 429", second.Code)
	}
}
