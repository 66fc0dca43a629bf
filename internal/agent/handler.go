package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/dex/internal/api"
	"github.com/ashureev/dex/internal/config"
	"github.com/ashureev/dex/internal/identity"
	"github.com/ashureev/dex/internal/session"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Responder answers a query within a session.
type Responder interface {
	Handle(ctx context.Context, query, sessionID string) string
}

// SessionEnsurer resolves a candidate session id to a live one.
type SessionEnsurer interface {
	Ensure(ctx context.Context, candidate string) (string, bool, error)
}

// Handler serves the chat endpoints.
type Handler struct {
	agent       Responder
	sessions    SessionEnsurer
	rateLimiter *RateLimiter
	conns       *ConnRegistry
	maxBodySize int64
	origins     []string
	isDev       bool
	stats       func() Stats
}

// NewHandler creates a chat handler. cfg may be nil, in which case defaults apply.
func NewHandler(agent Responder, sessions SessionEnsurer, cfg *config.Config, isDev bool) *Handler {
	rateLimitRequests := 20
	rateLimitWindow := time.Minute
	maxBodySize := int64(defaultMaxRequestBodySize)
	var origins []string

	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		if cfg.MaxRequestBodySize > 0 {
			maxBodySize = cfg.MaxRequestBodySize
		}
		origins = cfg.AllowedOrigins
	}

	h := &Handler{
		agent:       agent,
		sessions:    sessions,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		conns:       NewConnRegistry(),
		maxBodySize: maxBodySize,
		origins:     origins,
		isDev:       isDev,
	}
	if svc, ok := agent.(*Service); ok {
		h.stats = svc.Stats
	}
	return h
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/agent/stats", h.HandleStats)
	})
	r.Get("/ws/chat", h.ServeWebSocket)
}

// HandleChat handles POST /chat and /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.rateLimiter.Allow(rateLimitKey(r)) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	candidate := identity.SanitizeSessionID(req.SessionID)
	if candidate == "" {
		candidate = identity.SessionIDFromContext(r.Context())
	}

	sessionID, created, err := h.sessions.Ensure(r.Context(), candidate)
	if err != nil {
		slog.Error("Failed to ensure session", "error", err)
		if errors.Is(err, session.ErrUnavailable) {
			api.Error(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		api.Error(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}

	slog.Info("Chat request",
		"session_id", sessionID,
		"new_session", created,
		"query_length", len(query),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	reply := h.agent.Handle(r.Context(), query, sessionID)

	w.Header().Set(identity.SessionHeaderName, sessionID)
	api.JSON(w, http.StatusOK, newChatResponse(reply, sessionID))
}

// HandleStats handles GET /api/agent/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	if h.stats == nil {
		api.Error(w, http.StatusNotFound, "stats not available")
		return
	}
	api.JSON(w, http.StatusOK, h.stats())
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	h.conns.CloseAll()
}

func rateLimitKey(r *http.Request) string {
	if id := identity.ClientIDFromContext(r.Context()); id != "" {
		return id
	}
	return identity.IPFromRequest(r)
}
