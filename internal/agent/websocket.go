package agent

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/dex/internal/identity"
	"github.com/ashureev/dex/internal/session"
)

// Frame types exchanged on /ws/chat.
const (
	frameChat    = "chat"
	framePing    = "ping"
	framePong    = "pong"
	frameSession = "session"
	frameMessage = "message"
	frameError   = "error"
)

// wsFrame is a single JSON frame in either direction.
type wsFrame struct {
	Type        string `json:"type"`
	Query       string `json:"query,omitempty"`
	Response    string `json:"response,omitempty"`
	ResponseStr string `json:"response_str,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ConnRegistry tracks open chat sockets per session.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register records conn under sessionID.
func (m *ConnRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[sessionID]; !ok {
		m.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	m.active[sessionID][conn] = struct{}{}
	slog.Debug("Chat socket registered", "session_id", sessionID)
}

// Unregister removes conn from sessionID.
func (m *ConnRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.active, sessionID)
		}
	}
}

// Move re-registers conn after its session was replaced.
func (m *ConnRegistry) Move(from, to string, conn *websocket.Conn) {
	if from == to {
		return
	}
	m.Unregister(from, conn)
	m.Register(to, conn)
}

// Count returns the number of open sockets for sessionID.
func (m *ConnRegistry) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// CloseAll closes every registered socket.
func (m *ConnRegistry) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid, conns := range m.active {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, sid)
	}
}

// ServeWebSocket handles GET /ws/chat. Each chat frame, typed "chat" or
// untyped, is answered with one complete message frame.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     originPatterns(h.origins),
		InsecureSkipVerify: h.isDev,
	})
	if err != nil {
		slog.Warn("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(h.maxBodySize)

	ctx := r.Context()
	sessionID, _, err := h.sessions.Ensure(ctx, identity.SessionIDFromContext(ctx))
	if err != nil {
		slog.Error("Failed to ensure session", "error", err)
		status, msg := websocket.StatusInternalError, "failed to resolve session"
		if errors.Is(err, session.ErrUnavailable) {
			status, msg = websocket.StatusTryAgainLater, "session store unavailable"
		}
		_ = wsjson.Write(ctx, ws, wsFrame{Type: frameError, Error: msg})
		_ = ws.Close(status, msg)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer func() { h.conns.Unregister(sessionID, ws) }()

	if err := wsjson.Write(ctx, ws, wsFrame{Type: frameSession, SessionID: sessionID}); err != nil {
		slog.Debug("Failed to send session frame", "error", err)
		return
	}

	clientKey := rateLimitKey(r)
	for {
		var in wsFrame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		out := h.handleFrame(ctx, clientKey, &sessionID, ws, in)
		if err := wsjson.Write(ctx, ws, out); err != nil {
			slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, clientKey string, sessionID *string, ws *websocket.Conn, in wsFrame) wsFrame {
	switch in.Type {
	case framePing:
		return wsFrame{Type: framePong}
	case frameChat, "":
	default:
		return wsFrame{Type: frameError, Error: "unknown frame type"}
	}

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return wsFrame{Type: frameError, Error: "query is required", SessionID: *sessionID}
	}
	if !h.rateLimiter.Allow(clientKey) {
		return wsFrame{Type: frameError, Error: "rate limit exceeded", SessionID: *sessionID}
	}

	candidate := *sessionID
	if requested := identity.SanitizeSessionID(in.SessionID); requested != "" {
		candidate = requested
	}

	// Refreshes the TTL, or replaces a session that expired while the socket
	// sat idle.
	sid, _, err := h.sessions.Ensure(ctx, candidate)
	if err != nil {
		slog.Error("Failed to ensure session", "error", err, "session_id", *sessionID)
		return wsFrame{Type: frameError, Error: "session store unavailable", SessionID: *sessionID}
	}
	h.conns.Move(*sessionID, sid, ws)
	*sessionID = sid

	reply := h.agent.Handle(ctx, query, sid)
	return wsFrame{Type: frameMessage, Response: reply, ResponseStr: reply, SessionID: sid}
}

// originPatterns converts configured origins into host patterns.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}
