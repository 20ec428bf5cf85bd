package engine

import (
	"context"
	"time"
)

// RetryConfig bounds the engine's reaction to transient remote failures.
type RetryConfig struct {
	MaxAttempts int           // write/open attempts per batch
	Backoff     time.Duration // first retry delay
	BackoffCap  time.Duration // ceiling for the exponential delay
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
}

// backoffDelay returns min(base << attempt, cap).
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// sleepBackoff waits for the attempt's delay or until ctx is done.
func sleepBackoff(ctx context.Context, attempt int, base, cap time.Duration) error {
	t := time.NewTimer(backoffDelay(attempt, base, cap))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
