//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/dex/internal/domain"
	"github.com/ashureev/dex/internal/health"
	"github.com/ashureev/dex/internal/identity"
)

type fakeLedger struct {
	bySession map[string][]domain.Mistake
	err       error
}

func (f *fakeLedger) MistakesBySession(_ context.Context, sid string) ([]domain.Mistake, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.bySession[sid]
	if out == nil {
		out = []domain.Mistake{}
	}
	return out, nil
}

func (f *fakeLedger) AllMistakes(context.Context) ([]domain.Mistake, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := []domain.Mistake{}
	for _, ms := range f.bySession {
		out = append(out, ms...)
	}
	return out, nil
}

type fakeHistory struct {
	turns map[string][]domain.Turn
}

func (f *fakeHistory) Turns(_ context.Context, sid string) ([]domain.Turn, error) {
	out := f.turns[sid]
	if out == nil {
		out = []domain.Turn{}
	}
	return out, nil
}

type fakeSessions struct {
	sessions map[string]*domain.Session
	err      error
}

func (f *fakeSessions) Lookup(_ context.Context, id string) (*domain.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[id], nil
}

func newTestRouter(sessErr error) http.Handler {
	ledger := &fakeLedger{bySession: map[string][]domain.Mistake{
		"s1": {{ID: 1, SessionID: "s1", UserInputSnippet: "un pomme", Correction: "une pomme"}},
		"s2": {{ID: 2, SessionID: "s2", UserInputSnippet: "je suis faim", Correction: "j'ai faim"}},
	}}
	hist := &fakeHistory{turns: map[string][]domain.Turn{
		"s1": {
			{ID: 1, SessionID: "s1", Role: domain.RoleHuman, Content: "Bonjour"},
			{ID: 2, SessionID: "s1", Role: domain.RoleAssistant, Content: "Bonjour! Ça va?"},
		},
	}}
	sess := &fakeSessions{
		sessions: map[string]*domain.Session{
			"s1": {ID: "s1", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)},
		},
		err: sessErr,
	}

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHandler(ledger, hist, sess).RegisterRoutes(r)
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return got
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestListMistakesAll(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mistakes", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec); got["count"] != float64(2) {
		t.Errorf("Expected 2 mistakes, got %v", got["count"])
	}
}

func TestListMistakesScopedBySessionHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/mistakes", nil)
	req.Header.Set(identity.SessionHeaderName, "s2")
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, req)

	got := decodeBody(t, rec)
	if got["count"] != float64(1) {
		t.Fatalf("Expected 1 mistake, got %v", got["count"])
	}
	first := got["mistakes"].([]any)[0].(map[string]any)
	if first["correction"] != "j'ai faim" {
		t.Errorf("Unexpected mistake: %v", first)
	}
}

func TestListSessionMistakesEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/unknown-session/mistakes", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if ms, ok := got["mistakes"].([]any); !ok || len(ms) != 0 {
		t.Errorf("Expected empty array, got %v", got["mistakes"])
	}
}

func TestListMistakesStoreFailure(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(&fakeLedger{err: errors.New("disk I/O error")}, &fakeHistory{}, &fakeSessions{}).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mistakes", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
}

func TestGetHistory(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/history", nil))

	got := decodeBody(t, rec)
	turns := got["turns"].([]any)
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[1].(map[string]any)["role"] != "assistant" {
		t.Errorf("Unexpected second turn: %v", turns[1])
	}
}

func TestGetSession(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if ttl, _ := got["ttl_seconds"].(float64); ttl <= 0 {
		t.Errorf("Expected positive ttl, got %v", got["ttl_seconds"])
	}
}

func TestGetSessionNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
}

func TestGetSessionStoreUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(errors.New("closed")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
}

func TestInvalidSessionParam(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/bad%20id/history", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	checker := health.NewChecker(time.Second)
	checker.Register("database", health.PingFunc(func(context.Context) error { return nil }))

	r := chi.NewRouter()
	NewHealthHandler(checker).RegisterHealth(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	checker.Register("sessions", health.PingFunc(func(context.Context) error { return errors.New("closed") }))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if got := decodeBody(t, rec); got["status"] != health.StatusDegraded {
		t.Errorf("Expected degraded, got %v", got["status"])
	}
}
