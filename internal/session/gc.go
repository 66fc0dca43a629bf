package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	defaultGCInterval = 10 * time.Minute
	gcDiscardRatio    = 0.5
	maxGCPasses       = 8
)

// StartGCWorker runs a background goroutine that periodically reclaims value
// log space held by expired sessions. It stops when ctx is cancelled.
func (s *Store) StartGCWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session GC worker started", "interval", interval, "ttl", s.ttl)

		for {
			select {
			case <-ticker.C:
				if !s.collectGarbage() {
					slog.Info("Session GC worker stopping", "reason", "gc not supported")
					return
				}
			case <-ctx.Done():
				slog.Info("Session GC worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// collectGarbage runs value log GC until nothing is left to rewrite. It returns
// false when GC can never succeed for this store.
func (s *Store) collectGarbage() bool {
	passes := 0
	for passes < maxGCPasses {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		switch {
		case err == nil:
			passes++
			continue
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
		case errors.Is(err, badger.ErrGCInMemoryMode), errors.Is(err, badger.ErrDBClosed):
			return false
		default:
			slog.Warn("Session GC failed", "error", err)
		}
		break
	}

	if passes > 0 {
		slog.Info("Session GC reclaimed value log files", "passes", passes)
	}
	return true
}
