package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// RetryPolicy bounds the attempts made for a single persistence write.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration // delay before the second attempt, doubled afterwards
}

// WithRetry runs op until it succeeds or the policy is exhausted.
// ErrValidation and ErrNotFound are not retried. The final error wraps ErrPersistence.
func WithRetry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	attempts := max(policy.Attempts, 1)
	delay := policy.Backoff

	var lastErr error
	for attempt := range attempts {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrValidation) || errors.Is(lastErr, ErrNotFound) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrPersistence, ctx.Err())
		}
		if next := delay * 2; next <= constants.MaxPersistenceBackoff {
			delay = next
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrPersistence, attempts, lastErr)
}
