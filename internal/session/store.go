// Package session keeps conversational sessions in an expiring key-value store.
//
// A session id is valid while its key exists in badger; every accepted turn
// rewrites the key with a fresh TTL, so sessions expire after a period of
// inactivity and are never deleted explicitly.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/ashureev/dex/internal/domain"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("session store unavailable")

const keyPrefix = "session:"

// Store manages session tokens with a sliding TTL.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

type record struct {
	CreatedAt time.Time `json:"created_at"`
}

// Open opens (or creates) a badger directory for sessions.
func Open(dir string, ttl time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	return open(opts, ttl)
}

// OpenInMemory returns a store that keeps nothing on disk.
func OpenInMemory(ttl time.Duration) (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)
	return open(opts, ttl)
}

func open(opts badger.Options, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %v", ttl)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	return &Store{db: db, ttl: ttl}, nil
}

// TTL returns the configured inactivity window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Ensure returns a valid session id for candidate. An existing, unexpired id
// has its TTL refreshed and is returned with isNew=false. An absent, expired or
// malformed candidate yields a freshly generated id with isNew=true.
func (s *Store) Ensure(ctx context.Context, candidate string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	if candidate != "" {
		if _, err := uuid.Parse(candidate); err != nil {
			slog.Debug("Ignoring malformed session id", "session_id", candidate)
			candidate = ""
		}
	}

	var (
		id    string
		isNew bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		if candidate != "" {
			rec, err := getRecord(txn, candidate)
			if err != nil {
				return err
			}
			if rec != nil {
				id = candidate
				return putRecord(txn, candidate, rec, s.ttl)
			}
		}

		id = uuid.NewString()
		isNew = true
		return putRecord(txn, id, &record{CreatedAt: time.Now().UTC()}, s.ttl)
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: ensure session: %w", ErrUnavailable, err)
	}

	if isNew {
		slog.Info("Session created", "session_id", id, "ttl", s.ttl)
	} else {
		slog.Debug("Session refreshed", "session_id", id, "ttl", s.ttl)
	}
	return id, isNew, nil
}

// Lookup returns the session for id, or nil if it is unknown or has expired.
func (s *Store) Lookup(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sess *domain.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var rec record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}

		sess = &domain.Session{ID: id, CreatedAt: rec.CreatedAt}
		if exp := item.ExpiresAt(); exp > 0 {
			sess.ExpiresAt = time.Unix(int64(exp), 0).UTC()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: lookup session: %w", ErrUnavailable, err)
	}
	return sess, nil
}

// Ping reports whether the store can serve requests.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return fmt.Errorf("%w: database closed", ErrUnavailable)
	}
	if err := s.db.View(func(*badger.Txn) error { return nil }); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func getRecord(txn *badger.Txn, id string) (*record, error) {
	item, err := txn.Get(key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}

func putRecord(txn *badger.Txn, id string, rec *record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return txn.SetEntry(badger.NewEntry(key(id), data).WithTTL(ttl))
}
