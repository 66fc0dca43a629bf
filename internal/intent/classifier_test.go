package intent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/dex/internal/domain"
	"github.com/ashureev/dex/internal/llm"
)

type countingGateway struct {
	calls  atomic.Int32
	answer string
	err    error
	last   llm.Request
}

func (g *countingGateway) Generate(_ context.Context, req llm.Request) (string, error) {
	g.calls.Add(1)
	g.last = req
	return g.answer, g.err
}

func TestFastPathSkipsModel(t *testing.T) {
	queries := []string{
		"Help me learn French, beginner level",
		"Bonjour, je m'appelle Goutam",
		"mistaken identity is a film trope",
		"",
		"Corrected already",
	}
	gw := &countingGateway{answer: "SESSION_MISTAKES"}
	c := NewClassifier(gw, "m")

	for _, q := range queries {
		got, err := c.Classify(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, domain.IntentGeneralChat, got, "query %q", q)
	}
	assert.EqualValues(t, 0, gw.calls.Load())
}

func TestKeywordMatching(t *testing.T) {
	hits := []string{
		"show me my mistakes this session",
		"What did I get WRONG?",
		"review, please",
		"any feedback?",
		"is this correct",
		"(errors)",
	}
	for _, q := range hits {
		assert.True(t, HasKeyword(q), "query %q", q)
	}
	assert.False(t, HasKeyword("incorrectly"))
}

func TestSlowPathUsesModel(t *testing.T) {
	gw := &countingGateway{answer: "  SESSION_MISTAKES\n"}
	c := NewClassifier(gw, "gemini-2.0-flash")

	got, err := c.Classify(context.Background(), "show me my mistakes this session")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentSessionMistakes, got)
	assert.EqualValues(t, 1, gw.calls.Load())

	assert.Equal(t, "gemini-2.0-flash", gw.last.Model)
	assert.Equal(t, 0.0, gw.last.Temperature)
	assert.Equal(t, 1, gw.last.CandidateCount)
	assert.Contains(t, gw.last.Contents, "show me my mistakes this session")
}

func TestUnknownLabelIsAmbiguous(t *testing.T) {
	for _, answer := range []string{"MISTAKES", "session_mistakes", "SESSION_MISTAKES."} {
		gw := &countingGateway{answer: answer}
		_, err := NewClassifier(gw, "m").Classify(context.Background(), "review my errors")

		assert.True(t, IsAmbiguous(err), "answer %q: %v", answer, err)
		assert.True(t, errors.Is(err, domain.ErrUnknownIntent))
	}
}

func TestModelFailure(t *testing.T) {
	gw := &countingGateway{err: fmt.Errorf("%w: boom", llm.ErrInvocation)}

	_, err := NewClassifier(gw, "m").Classify(context.Background(), "feedback please")
	assert.True(t, errors.Is(err, llm.ErrInvocation))
	assert.False(t, IsAmbiguous(err))
}
