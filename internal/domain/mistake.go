package domain

import (
	"time"
)

// TimestampLayout is the second-precision UTC layout mistakes are stored with.
const TimestampLayout = "2006-01-02 15:04:05"

// Mistake is one correction the assistant made to the learner's input.
type Mistake struct {
	ID               int64     `json:"id"`
	SessionID        string    `json:"session_id"`
	Timestamp        time.Time `json:"timestamp"`
	UserInputSnippet string    `json:"user_input_snippet"`
	Correction       string    `json:"correction"`
	MistakeType      string    `json:"mistake_type"`
	Explanation      string    `json:"explanation"`
}

// Complete reports whether the record carries the fields required to persist it.
func (m *Mistake) Complete() bool {
	return m.UserInputSnippet != "" && m.Correction != ""
}
