package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownIntent is returned when a label is outside the Intent enumeration.
var ErrUnknownIntent = errors.New("unknown intent")

// Intent is the classified purpose of a user query.
type Intent string

const (
	IntentGeneralChat     Intent = "GENERAL_CHAT"
	IntentSessionMistakes Intent = "SESSION_MISTAKES"
	IntentAllMistakes     Intent = "ALL_MISTAKES"
	IntentUnclearMistakes Intent = "UNCLEAR_MISTAKES"
	IntentNotMistakes     Intent = "NOT_MISTAKES"
)

// Intents lists every valid intent in declaration order.
var Intents = []Intent{
	IntentGeneralChat,
	IntentSessionMistakes,
	IntentAllMistakes,
	IntentUnclearMistakes,
	IntentNotMistakes,
}

// ParseIntent maps a model label onto the closed Intent enumeration.
// Surrounding whitespace is ignored; anything else must match exactly.
func ParseIntent(label string) (Intent, error) {
	label = strings.TrimSpace(label)
	for _, in := range Intents {
		if string(in) == label {
			return in, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIntent, label)
}

// IsReview reports whether the intent asks for a mistake review.
func (i Intent) IsReview() bool {
	switch i {
	case IntentSessionMistakes, IntentAllMistakes, IntentUnclearMistakes:
		return true
	}
	return false
}
