package events

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for event")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubPublishAssignsIncreasingIDs(t *testing.T) {
	h := NewHub(nil)

	h.Publish(Event{SessionID: "a", Type: TypeSessionStarted})
	h.Publish(Event{SessionID: "b", Type: TypeSessionStarted})
	h.Publish(Event{SessionID: "a", Type: TypeAttemptStarted, Attempt: 1})

	a := h.Replay("a", 0)
	b := h.Replay("b", 0)
	if len(a) != 2 || len(b) != 1 {
		t.Fatalf("replay sizes = %d/%d, want 2/1", len(a), len(b))
	}
	// IDs are global across sessions so Last-Event-ID resume works.
	if !(a[0].ID < b[0].ID && b[0].ID < a[1].ID) {
		t.Errorf("IDs not monotonic: a=[%d %d] b=[%d]", a[0].ID, a[1].ID, b[0].ID)
	}
	if a[0].Timestamp.IsZero() {
		t.Error("published event missing timestamp")
	}
}

func TestHubSubscribeReceivesEvents(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("sess-1")
	defer cancel()

	h.Publish(Event{SessionID: "sess-1", Type: TypeCodeExtracted, Attempt: 2, Code: "print(1)"})

	got := recvEvent(t, ch)
	if got.Type != TypeCodeExtracted {
		t.Errorf("type = %q, want %q", got.Type, TypeCodeExtracted)
	}
	if got.Attempt != 2 || got.Code != "print(1)" {
		t.Errorf("event = %+v, want attempt 2 with code", got)
	}
	if got.ID == 0 {
		t.Error("delivered event missing hub-assigned ID")
	}
}

func TestHubDeliversOnlyToMatchingSession(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("sess-a")
	defer cancel()

	h.Publish(Event{SessionID: "sess-b", Type: TypeSessionStarted})
	h.Publish(Event{SessionID: "sess-a", Type: TypeSessionFinished})

	got := recvEvent(t, ch)
	if got.SessionID != "sess-a" || got.Type != TypeSessionFinished {
		t.Errorf("got %+v, want only sess-a events", got)
	}
}

func TestHubReplayWindowTrimsOldest(t *testing.T) {
	h := NewHub(nil)
	h.replaySize = 3

	for i := 1; i <= 5; i++ {
		h.Publish(Event{SessionID: "sess-1", Type: TypeAttemptStarted, Attempt: i})
	}

	got := h.Replay("sess-1", 0)
	if len(got) != 3 {
		t.Fatalf("replay length = %d, want 3", len(got))
	}
	if got[0].Attempt != 3 || got[2].Attempt != 5 {
		t.Errorf("window = attempts [%d..%d], want [3..5]", got[0].Attempt, got[2].Attempt)
	}
}

func TestHubReplayAfterID(t *testing.T) {
	h := NewHub(nil)

	h.Publish(Event{SessionID: "sess-1", Type: TypeSessionStarted})
	h.Publish(Event{SessionID: "sess-1", Type: TypeAttemptStarted, Attempt: 1})
	h.Publish(Event{SessionID: "sess-1", Type: TypeSessionFinished})

	all := h.Replay("sess-1", 0)
	if len(all) != 3 {
		t.Fatalf("replay length = %d, want 3", len(all))
	}

	tail := h.Replay("sess-1", all[0].ID)
	if len(tail) != 2 {
		t.Fatalf("replay after first ID = %d events, want 2", len(tail))
	}
	if tail[0].Type != TypeAttemptStarted {
		t.Errorf("first replayed type = %q, want %q", tail[0].Type, TypeAttemptStarted)
	}

	if got := h.Replay("sess-1", all[2].ID); len(got) != 0 {
		t.Errorf("replay past the end returned %d events", len(got))
	}

	if got := h.Replay("unknown", 0); got != nil {
		t.Errorf("replay of unknown session = %v, want nil", got)
	}
}

func TestHubSlowSubscriberLosesLiveEventsButNotReplay(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("sess-1")
	defer cancel()

	total := subscriberBuffer + 8
	for i := 1; i <= total; i++ {
		h.Publish(Event{SessionID: "sess-1", Type: TypeAttemptStarted, Attempt: i})
	}

	if got := len(ch); got != subscriberBuffer {
		t.Errorf("channel holds %d events, want the %d-slot buffer full", got, subscriberBuffer)
	}
	if got := h.Replay("sess-1", 0); len(got) != total {
		t.Errorf("replay holds %d events, want all %d", len(got), total)
	}
}

func TestHubCancelIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("sess-1")

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	if n := h.SubscriberCount("sess-1"); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}
}

func TestHubDropSessionClosesEverything(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("sess-1")
	defer cancel()

	h.Publish(Event{SessionID: "sess-1", Type: TypeSessionStarted})
	recvEvent(t, ch)

	h.DropSession("sess-1")

	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after drop")
	}
	if got := h.Replay("sess-1", 0); got != nil {
		t.Errorf("replay survived drop: %v", got)
	}
	if n := h.SubscriberCount("sess-1"); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}
}
