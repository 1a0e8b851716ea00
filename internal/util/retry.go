package util

import (
	"context"
	"fmt"
	"time"
)

// Retry calls fn up to maxAttempts times, doubling the delay between
// attempts starting at baseDelay. It returns nil on the first success, the
// context error if cancelled while backing off, and otherwise the last error
// wrapped with the attempt count.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}
