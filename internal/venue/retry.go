// Package venue provides shared helpers for the exchange venue clients.
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/kjanssen/arbot/internal/domain"
)

// maxBackoff caps the exponential delay between retries.
const maxBackoff = 16 * time.Second

// Retry runs fn up to attempts times with exponential backoff, starting at
// baseDelay and doubling up to maxBackoff. It stops early when fn succeeds,
// when the context is done, or when the error is one that retrying cannot
// fix (bad credentials, rejected orders).
//
// Only read paths should go through Retry; order submission must stay
// single-shot so a timed-out request is never silently replayed.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	delay := baseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	return err
}

// retryable reports whether a venue error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrOrderRejected) {
		return false
	}
	return true
}
