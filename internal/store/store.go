// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/dex/internal/domain"
)

// ErrIncompleteMistake is returned when a mistake lacks its snippet or correction.
var ErrIncompleteMistake = errors.New("mistake requires user input snippet and correction")

// MistakeLedger persists corrections extracted from model responses.
type MistakeLedger interface {
	// LogMistake inserts one mistake, assigning its ID and, when zero, its timestamp.
	LogMistake(ctx context.Context, m *domain.Mistake) error

	// MistakesBySession returns a session's mistakes in insertion order.
	// A session without mistakes yields an empty, non-nil slice.
	MistakesBySession(ctx context.Context, sessionID string) ([]domain.Mistake, error)

	// AllMistakes returns every recorded mistake in insertion order.
	AllMistakes(ctx context.Context) ([]domain.Mistake, error)
}

// History stores the ordered turns of each session.
type History interface {
	// AppendTurn adds one turn to the end of a session's history.
	AppendTurn(ctx context.Context, sessionID string, role domain.Role, text string) error

	// Turns returns a session's history in chronological order.
	Turns(ctx context.Context, sessionID string) ([]domain.Turn, error)
}

// Repository is the full persistence surface used by the service.
type Repository interface {
	MistakeLedger
	History

	// RecordExchange appends the human and assistant turns and logs the
	// mistakes in a single transaction. Incomplete mistakes are skipped.
	RecordExchange(ctx context.Context, sessionID, human, assistant string, mistakes []domain.Mistake) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// RenderContext flattens turns into the "Human: ..." / "AI: ..." transcript
// sent to the model, one line per turn.
func RenderContext(turns []domain.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.Role.Prefix()+": "+t.Content)
	}
	return strings.Join(lines, "\n")
}
