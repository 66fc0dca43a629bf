package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/dex/internal/shared"
)

const (
	maxRetries     = 3
	baseRetryDelay = 50 * time.Millisecond
)

// withRetry runs fn, retrying SQLITE_BUSY and "database is locked" failures
// with exponential backoff: 50ms, 100ms.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseRetryDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying", "op", op, "attempt", i+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if shared.IsSQLiteConflictError(err) {
		return fmt.Errorf("%s after %d attempts: %w", op, maxRetries, err)
	}
	return err
}
