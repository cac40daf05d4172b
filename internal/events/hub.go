// Package events fans out session progress notifications to live
// subscribers and keeps a bounded replay window per session so
// reconnecting clients can catch up.
package events

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

// Type identifies what happened during a session.
type Type string

const (
	TypeSessionStarted     Type = "session_started"
	TypeAttemptStarted     Type = "attempt_started"
	TypeGenerationStarted  Type = "generation_started"
	TypeGenerationFinished Type = "generation_finished"
	TypeCodeExtracted      Type = "code_extracted"
	TypeExecutionStarted   Type = "execution_started"
	TypeExecutionFinished  Type = "execution_finished"
	TypeAttemptFailed      Type = "attempt_failed"
	TypeSessionFinished    Type = "session_finished"
)

// Event is a single progress notification emitted by a running session.
// ID is assigned by the hub and increases monotonically across all
// sessions, which lets SSE clients resume with Last-Event-ID.
type Event struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Type         Type      `json:"type"`
	Attempt      int       `json:"attempt,omitempty"`
	Message      string    `json:"message,omitempty"`
	Code         string    `json:"code,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	FailureClass string    `json:"failure_class,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Sink receives events from a running session. Implementations must not
// block: publishers call Publish from the hot path of the retry loop.
type Sink interface {
	Publish(e Event)
}

// subscriberBuffer is the channel capacity handed to each subscriber.
// A slow consumer loses events rather than stalling the session.
const subscriberBuffer = 64

// defaultReplaySize bounds how many events are retained per session for
// reconnect catch-up.
const defaultReplaySize = 100

// Hub is an in-process event bus. Publish assigns IDs, records the
// event in the per-session replay window, and delivers to subscribers
// without blocking.
type Hub struct {
	mu         sync.Mutex
	counter    int64
	subs       map[string]map[int64]chan Event
	nextSubID  int64
	replay     map[string]*list.List
	replaySize int
	logger     *slog.Logger
}

var _ Sink = (*Hub)(nil)

// NewHub creates a hub with the default replay window.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:       make(map[string]map[int64]chan Event),
		replay:     make(map[string]*list.List),
		replaySize: defaultReplaySize,
		logger:     logger,
	}
}

// Publish stamps the event and delivers it. Subscribers with a full
// buffer are skipped; the replay window still records the event, so a
// client that reconnects with Last-Event-ID recovers it.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counter++
	e.ID = h.counter
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	q, ok := h.replay[e.SessionID]
	if !ok {
		q = list.New()
		h.replay[e.SessionID] = q
	}
	q.PushBack(e)
	for q.Len() > h.replaySize {
		q.Remove(q.Front())
	}

	for id, ch := range h.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
			h.logger.Warn("Dropping event for slow subscriber",
				"session_id", e.SessionID, "subscriber", id, "type", e.Type)
		}
	}
}

// Subscribe registers a listener for one session. The returned cancel
// function must be called when the listener is done; it closes the
// channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSubID++
	id := h.nextSubID
	ch := make(chan Event, subscriberBuffer)

	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int64]chan Event)
	}
	h.subs[sessionID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subs[sessionID]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

// Replay returns the retained events for a session with ID greater than
// afterID, oldest first. afterID zero returns the whole window.
func (h *Hub) Replay(sessionID string, afterID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.replay[sessionID]
	if !ok {
		return nil
	}
	var out []Event
	for el := q.Front(); el != nil; el = el.Next() {
		ev := el.Value.(Event)
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out
}

// DropSession discards the replay window and closes any remaining
// subscribers. Called when a session is deleted.
func (h *Hub) DropSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.replay, sessionID)
	for id, ch := range h.subs[sessionID] {
		delete(h.subs[sessionID], id)
		close(ch)
	}
	delete(h.subs, sessionID)
}

// SubscriberCount reports the live subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
