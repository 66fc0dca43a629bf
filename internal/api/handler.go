// Package api provides the read-only HTTP handlers of the Dex API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/dex/internal/domain"
	"github.com/ashureev/dex/internal/identity"
)

// MistakeReader reads the mistake ledger.
type MistakeReader interface {
	MistakesBySession(ctx context.Context, sessionID string) ([]domain.Mistake, error)
	AllMistakes(ctx context.Context) ([]domain.Mistake, error)
}

// HistoryReader reads a session's conversation history.
type HistoryReader interface {
	Turns(ctx context.Context, sessionID string) ([]domain.Turn, error)
}

// SessionLookup resolves a session id without refreshing it.
type SessionLookup interface {
	Lookup(ctx context.Context, id string) (*domain.Session, error)
}

// Handler serves the ledger, history and session endpoints.
type Handler struct {
	mistakes MistakeReader
	history  HistoryReader
	sessions SessionLookup
	timeout  time.Duration
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(mistakes MistakeReader, history HistoryReader, sessions SessionLookup) *Handler {
	return &Handler{
		mistakes: mistakes,
		history:  history,
		sessions: sessions,
		timeout:  10 * time.Second,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the read-only routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/mistakes", h.ListMistakes)
		r.Get("/sessions/{sessionID}", h.GetSession)
		r.Get("/sessions/{sessionID}/mistakes", h.ListSessionMistakes)
		r.Get("/sessions/{sessionID}/history", h.GetHistory)
	})
}

// ListMistakes handles GET /api/mistakes. A session_id query parameter, or
// the session header, narrows the result to that session.
func (h *Handler) ListMistakes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mistakes []domain.Mistake
		err      error
	)
	if sid := identity.SessionIDFromContext(r.Context()); sid != "" {
		mistakes, err = h.mistakes.MistakesBySession(ctx, sid)
	} else {
		mistakes, err = h.mistakes.AllMistakes(ctx)
	}
	if err != nil {
		slog.Error("Failed to list mistakes", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list mistakes")
		return
	}

	JSON(w, http.StatusOK, map[string]any{"mistakes": mistakes, "count": len(mistakes)})
}

// ListSessionMistakes handles GET /api/sessions/{sessionID}/mistakes.
func (h *Handler) ListSessionMistakes(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	mistakes, err := h.mistakes.MistakesBySession(ctx, sid)
	if err != nil {
		slog.Error("Failed to list session mistakes", "session_id", sid, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list mistakes")
		return
	}

	JSON(w, http.StatusOK, map[string]any{"session_id": sid, "mistakes": mistakes, "count": len(mistakes)})
}

// GetHistory handles GET /api/sessions/{sessionID}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	turns, err := h.history.Turns(ctx, sid)
	if err != nil {
		slog.Error("Failed to load history", "session_id", sid, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	JSON(w, http.StatusOK, map[string]any{"session_id": sid, "turns": turns})
}

// GetSession handles GET /api/sessions/{sessionID}. It never refreshes the TTL.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, err := h.sessions.Lookup(ctx, sid)
	if err != nil {
		slog.Error("Failed to look up session", "session_id", sid, "error", err)
		Error(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"session_id":  sess.ID,
		"created_at":  sess.CreatedAt,
		"expires_at":  sess.ExpiresAt,
		"ttl_seconds": int64(sess.TTL().Seconds()),
	})
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid := identity.SanitizeSessionID(chi.URLParam(r, "sessionID"))
	if sid == "" {
		Error(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return sid, true
}
