package pump

import (
	"context"
	"time"
)

// backoff sleeps for an exponentially growing delay, honoring context
// cancellation. attempt is zero-based.
func backoff(ctx context.Context, base, max time.Duration, attempt int) error {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
