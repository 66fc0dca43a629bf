package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/dex/internal/correction"
	"github.com/ashureev/dex/internal/domain"
	"github.com/ashureev/dex/internal/intent"
	"github.com/ashureev/dex/internal/llm"
	"github.com/ashureev/dex/internal/prompts"
	"github.com/ashureev/dex/internal/store"
)

// Store is the persistence the orchestrator needs.
type Store interface {
	store.MistakeLedger
	Turns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	RecordExchange(ctx context.Context, sessionID, human, assistant string, mistakes []domain.Mistake) error
}

// Classifier decides the intent of a query.
type Classifier interface {
	Classify(ctx context.Context, query string) (domain.Intent, error)
}

// Deps are the collaborators injected into a Service.
type Deps struct {
	Gateway llm.Gateway
	Store   Store
	// Classifier defaults to an intent.Classifier over Gateway.
	Classifier        Classifier
	Log               ConversationLogger
	Model             string
	ChatTemperature   float64
	ReviewTemperature float64
}

// Service orchestrates one conversational turn: classify, then either chat
// with the tutor or review stored mistakes.
type Service struct {
	gateway           llm.Gateway
	store             Store
	classifier        Classifier
	log               ConversationLogger
	model             string
	chatTemperature   float64
	reviewTemperature float64
	tutorSystem       string

	sessions *keyedMutex

	statsMu sync.Mutex
	stats   Stats
}

// Stats contains orchestrator counters since start.
type Stats struct {
	TurnsByIntent  map[domain.Intent]int64 `json:"turns_by_intent"`
	Unhandled      int64                   `json:"unhandled"`
	ModelFailures  int64                   `json:"model_failures"`
	StoreFailures  int64                   `json:"store_failures"`
	PersistSkipped int64                   `json:"persist_skipped"`
	MistakesLogged int64                   `json:"mistakes_logged"`
	ActiveSessions int                     `json:"active_sessions"`
}

// NewService creates a Service from deps.
func NewService(deps Deps) (*Service, error) {
	if deps.Gateway == nil {
		return nil, errors.New("agent: model gateway is required")
	}
	if deps.Store == nil {
		return nil, errors.New("agent: store is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewClassifier(deps.Gateway, deps.Model)
	}
	if deps.Log == nil {
		deps.Log = noopConversationLogger{}
	}

	return &Service{
		gateway:           deps.Gateway,
		store:             deps.Store,
		classifier:        deps.Classifier,
		log:               deps.Log,
		model:             deps.Model,
		chatTemperature:   deps.ChatTemperature,
		reviewTemperature: deps.ReviewTemperature,
		tutorSystem:       prompts.TutorSystem(),
		sessions:          newKeyedMutex(),
		stats:             Stats{TurnsByIntent: make(map[domain.Intent]int64)},
	}, nil
}

// Handle answers query within sessionID. It always returns text for the user;
// failures are turned into fixed apology messages and logged.
func (s *Service) Handle(ctx context.Context, query, sessionID string) string {
	release, err := s.sessions.Lock(ctx, sessionID)
	if err != nil {
		slog.Debug("Turn abandoned while waiting for session", "session_id", sessionID, "error", err)
		s.count(func(st *Stats) { st.PersistSkipped++ })
		return MsgModelUnavailable
	}
	defer release()

	start := time.Now()
	s.logEvent(sessionID, "human", "chat_user_message", query, nil)

	in, err := s.classifier.Classify(ctx, query)
	if err != nil {
		if intent.IsAmbiguous(err) {
			slog.Warn("Unhandled intent", "session_id", sessionID, "error", err)
			s.count(func(st *Stats) { st.Unhandled++ })
			s.logEvent(sessionID, "system", "intent_ambiguous", err.Error(), nil)
			return MsgUnhandled
		}
		slog.Error("Intent classification failed", "session_id", sessionID, "error", err)
		s.count(func(st *Stats) { st.ModelFailures++ })
		return MsgModelUnavailable
	}
	s.count(func(st *Stats) { st.TurnsByIntent[in]++ })

	var reply string
	switch in {
	case domain.IntentGeneralChat, domain.IntentNotMistakes:
		reply = s.chat(ctx, query, sessionID)
	case domain.IntentSessionMistakes:
		reply = s.review(ctx, query, sessionID, prompts.ScopeSession)
	case domain.IntentAllMistakes:
		reply = s.review(ctx, query, sessionID, prompts.ScopeAll)
	case domain.IntentUnclearMistakes:
		reply = s.review(ctx, query, sessionID, prompts.ScopeUnclear)
	default:
		slog.Warn("Unhandled intent", "session_id", sessionID, "intent", in)
		s.count(func(st *Stats) { st.Unhandled++ })
		return MsgUnhandled
	}

	slog.Info("Turn handled",
		"session_id", sessionID,
		"intent", in,
		"duration", time.Since(start),
		"response_length", len(reply),
	)
	s.logEvent(sessionID, "assistant", "chat_assistant_message", reply, map[string]any{"intent": in})
	return reply
}

func (s *Service) chat(ctx context.Context, query, sessionID string) string {
	turns, err := s.store.Turns(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to load history", "session_id", sessionID, "error", err)
		s.count(func(st *Stats) { st.StoreFailures++ })
		return MsgModelUnavailable
	}

	contents := query
	if history := store.RenderContext(turns); history != "" {
		contents = history + "\n" + query
	}

	raw, err := s.gateway.Generate(ctx, llm.Request{
		Model:             s.model,
		Contents:          contents,
		SystemInstruction: s.tutorSystem,
		Temperature:       s.chatTemperature,
	})
	if err != nil {
		slog.Error("Model call failed", "session_id", sessionID, "error", err)
		s.count(func(st *Stats) { st.ModelFailures++ })
		return MsgModelUnavailable
	}

	mistakes, cleaned := correction.Extract(raw, sessionID)
	if len(mistakes) > 0 {
		s.logEvent(sessionID, "assistant", "mistakes_extracted", raw, map[string]any{"count": len(mistakes)})
	}

	// A caller that has gone away must not leave a turn behind.
	if ctx.Err() != nil {
		slog.Warn("Request cancelled before persistence, exchange dropped", "session_id", sessionID, "error", ctx.Err())
		s.count(func(st *Stats) { st.PersistSkipped++ })
		return cleaned
	}

	if err := s.store.RecordExchange(ctx, sessionID, query, cleaned, mistakes); err != nil {
		slog.Error("Failed to record exchange", "session_id", sessionID, "error", err)
		s.count(func(st *Stats) { st.StoreFailures++ })
		return cleaned
	}

	if len(mistakes) > 0 {
		slog.Info("Logged mistakes", "session_id", sessionID, "count", len(mistakes))
		s.count(func(st *Stats) { st.MistakesLogged += int64(len(mistakes)) })
	}
	return cleaned
}

func (s *Service) review(ctx context.Context, query, sessionID string, scope prompts.Scope) string {
	var (
		mistakes []domain.Mistake
		err      error
	)
	if scope == prompts.ScopeAll {
		mistakes, err = s.store.AllMistakes(ctx)
	} else {
		mistakes, err = s.store.MistakesBySession(ctx, sessionID)
	}
	if err != nil {
		slog.Error("Failed to load mistakes", "session_id", sessionID, "scope", scope, "error", err)
		s.count(func(st *Stats) { st.StoreFailures++ })
		return MsgMistakesUnavailable
	}

	if len(mistakes) == 0 {
		if scope == prompts.ScopeAll {
			return MsgNoMistakesRecorded
		}
		return MsgNoSessionMistakes
	}

	system, user, err := prompts.Review(scope, correction.RenderSummary(mistakes), query)
	if err != nil {
		slog.Error("Failed to render review prompt", "error", err)
		return MsgModelUnavailable
	}

	raw, err := s.gateway.Generate(ctx, llm.Request{
		Model:             s.model,
		Contents:          user,
		SystemInstruction: system,
		Temperature:       s.reviewTemperature,
	})
	if err != nil {
		slog.Error("Model call failed", "session_id", sessionID, "scope", scope, "error", err)
		s.count(func(st *Stats) { st.ModelFailures++ })
		return MsgModelUnavailable
	}

	return correction.Clean(raw)
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	out := s.stats
	out.TurnsByIntent = make(map[domain.Intent]int64, len(s.stats.TurnsByIntent))
	for k, v := range s.stats.TurnsByIntent {
		out.TurnsByIntent[k] = v
	}
	out.ActiveSessions = s.sessions.Len()
	return out
}

// Close releases resources.
func (s *Service) Close() error {
	return s.log.Close()
}

func (s *Service) count(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

func (s *Service) logEvent(sessionID, role, eventType, content string, meta map[string]any) {
	s.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		SessionID:  sessionID,
		Role:       role,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
