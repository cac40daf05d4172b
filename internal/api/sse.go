package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/supercoder/internal/events"
	"github.com/ashureev/supercoder/internal/identity"
)

const (
	// sseRetryDelay tells browsers how long to wait before
	// reconnecting after the stream drops.
	sseRetryDelay = 5 * time.Second
	// sseKeepaliveInterval spaces the comment pings that keep idle
	// proxies from closing the stream.
	sseKeepaliveInterval = 15 * time.Second
)

// SSEHandler streams session progress events over Server-Sent Events.
// Clients resume after a reconnect by sending Last-Event-ID; missed
// events are replayed from the hub's per-session window.
type SSEHandler struct {
	*Handler
	limiter *RateLimiter
}

// NewSSEHandler creates an SSE handler with its own per-user rate
// limiter.
func NewSSEHandler(base *Handler, limiter *RateLimiter) *SSEHandler {
	return &SSEHandler{Handler: base, limiter: limiter}
}

// Stream serves one event stream for the session named in the URL.
// The stream ends after session_finished is delivered.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	if !h.limiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// Parse Last-Event-ID header or query param for replay.
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Info("SSE client reconnecting with Last-Event-ID",
				"session_id", sess.ID, "last_event_id", lastEventID)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", sseRetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "session_id", sess.ID)
		return
	}
	if err := writeSSE(w, "connected", `{"session_id":"`+sess.ID+`"}`); err != nil {
		slog.Warn("failed to write SSE connected event", "error", err)
		return
	}
	flusher.Flush()

	// Subscribe before replaying so nothing published in between is
	// lost; duplicates across the seam are filtered by ID below.
	ch, cancelSub := h.hub.Subscribe(sess.ID)
	defer cancelSub()

	maxSent := lastEventID
	for _, ev := range h.hub.Replay(sess.ID, lastEventID) {
		if err := writeEvent(w, ev); err != nil {
			slog.Warn("failed to replay SSE event", "error", err, "session_id", sess.ID)
			return
		}
		maxSent = ev.ID
	}
	flusher.Flush()

	// A finished session has nothing more to say; replay was the
	// whole story.
	if sess.State.Terminal() {
		return
	}

	slog.Info("SSE stream connected", "session_id", sess.ID, "user_id", userID)
	ticker := time.NewTicker(sseKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.ID <= maxSent {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				slog.Warn("failed to write SSE event", "error", err, "session_id", sess.ID)
				return
			}
			maxSent = ev.ID
			flusher.Flush()
			if ev.Type == events.TypeSessionFinished {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				slog.Debug("failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			slog.Debug("SSE client disconnected", "session_id", sess.ID)
			return
		}
	}
}

func writeEvent(w io.Writer, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return writeSSEWithID(w, ev.ID, string(ev.Type), string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
