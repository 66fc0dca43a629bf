// Package intent decides whether a learner's message is ordinary practice or a
// request to review past mistakes.
package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ashureev/dex/internal/domain"
	"github.com/ashureev/dex/internal/llm"
	"github.com/ashureev/dex/internal/prompts"
)

// ErrAmbiguous is returned when the model answers with a label outside the
// intent enumeration. It wraps domain.ErrUnknownIntent.
var ErrAmbiguous = fmt.Errorf("ambiguous intent classification: %w", domain.ErrUnknownIntent)

// keywords trigger the model-backed classification. A query with none of them
// is general chat.
var keywords = map[string]struct{}{
	"mistakes": {},
	"mistake":  {},
	"error":    {},
	"errors":   {},
	"wrong":    {},
	"review":   {},
	"summary":  {},
	"correct":  {},
	"feedback": {},
}

// Classifier maps queries onto domain intents.
type Classifier struct {
	gateway llm.Gateway
	model   string
}

// NewClassifier creates a classifier that consults gateway on keyword hits.
func NewClassifier(gateway llm.Gateway, model string) *Classifier {
	return &Classifier{gateway: gateway, model: model}
}

// HasKeyword reports whether query contains a review keyword.
func HasKeyword(query string) bool {
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if _, ok := keywords[tok]; ok {
			return true
		}
	}
	return false
}

// Classify returns the intent of query. Queries without a review keyword are
// GENERAL_CHAT and never reach the model.
func (c *Classifier) Classify(ctx context.Context, query string) (domain.Intent, error) {
	if !HasKeyword(query) {
		return domain.IntentGeneralChat, nil
	}

	prompt, err := prompts.Classification(query)
	if err != nil {
		return "", err
	}

	label, err := c.gateway.Generate(ctx, llm.Request{
		Model:          c.model,
		Contents:       prompt,
		Temperature:    0,
		CandidateCount: 1,
	})
	if err != nil {
		return "", fmt.Errorf("classify intent: %w", err)
	}

	in, err := domain.ParseIntent(label)
	if err != nil {
		return "", fmt.Errorf("%w: model answered %q", ErrAmbiguous, strings.TrimSpace(label))
	}
	return in, nil
}

// IsAmbiguous reports whether err came from an out-of-enumeration label.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrAmbiguous)
}
