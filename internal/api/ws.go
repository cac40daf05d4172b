package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/ashureev/supercoder/internal/events"
	"github.com/ashureev/supercoder/internal/identity"
	"github.com/coder/websocket"
)

// WSHandler streams session progress events over a WebSocket. Unlike
// the SSE stream it is bidirectional: the client may send
// {"type":"cancel"} to stop a running session.
type WSHandler struct {
	*Handler
	launcher      *Launcher
	allowedOrigin string
	isDev         bool
}

// NewWSHandler creates a WebSocket handler.
func NewWSHandler(base *Handler, launcher *Launcher, allowedOrigin string, isDev bool) *WSHandler {
	return &WSHandler{
		Handler:       base,
		launcher:      launcher,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage represents an inbound WebSocket message.
type wsMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sess.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sess.ID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	afterID := int64(0)
	if after := r.URL.Query().Get("after"); after != "" {
		if parsed, err := strconv.ParseInt(after, 10, 64); err == nil {
			afterID = parsed
		}
	}

	slog.Info("WebSocket stream connected", "session_id", sess.ID, "ip", identity.IPFromRequest(r))

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: cancel and ping messages from the client.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, sess.ID)
	}()

	// Output loop: replay then live events to the client.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, sess.ID, afterID)
	}()

	wg.Wait()
	slog.Info("WebSocket stream ended", "session_id", sess.ID)
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WSHandler) inputLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("Ignoring malformed WebSocket message", "session_id", sessionID)
			continue
		}

		switch msg.Type {
		case "cancel":
			slog.Info("Session cancel requested", "session_id", sessionID)
			status := "canceling"
			if !h.launcher.Cancel(sessionID) {
				status = "not_running"
			}
			if err := h.writeJSON(ctx, ws, map[string]string{"type": status}); err != nil {
				slog.Debug("Failed to acknowledge cancel", "error", err)
				return
			}
		case "ping":
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func (h *WSHandler) outputLoop(ctx context.Context, ws *websocket.Conn, sessionID string, afterID int64) {
	// Subscribe before replaying so nothing published in between is
	// lost; duplicates across the seam are filtered by event ID.
	ch, cancelSub := h.hub.Subscribe(sessionID)
	defer cancelSub()

	maxSent := afterID
	for _, ev := range h.hub.Replay(sessionID, afterID) {
		if err := h.writeJSON(ctx, ws, ev); err != nil {
			return
		}
		maxSent = ev.ID
		if ev.Type == events.TypeSessionFinished {
			return
		}
	}

	for {
		select {
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.ID <= maxSent {
				continue
			}
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				return
			}
			maxSent = ev.ID
			if ev.Type == events.TypeSessionFinished {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
