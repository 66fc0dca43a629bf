// Package domain contains core domain types for the Dex tutoring service.
package domain

import (
	"time"
)

// Session is a conversational context identified by an opaque token with a
// sliding expiry.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TTL returns the time until the session expires.
// Returns 0 if the session has already expired.
func (s *Session) TTL() time.Duration {
	ttl := time.Until(s.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
