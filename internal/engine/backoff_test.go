package engine

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	base, cap := 100*time.Millisecond, time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.attempt, base, cap); got != tc.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	var c RetryConfig
	c.applyDefaults()
	if c.MaxAttempts != 5 || c.Backoff != 100*time.Millisecond || c.BackoffCap != 30*time.Second {
		t.Fatalf("defaults = %+v", c)
	}
	c = RetryConfig{MaxAttempts: 2, Backoff: time.Millisecond, BackoffCap: time.Second}
	c.applyDefaults()
	if c.MaxAttempts != 2 {
		t.Fatalf("explicit values overwritten: %+v", c)
	}
}

func TestSleepBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepBackoff(ctx, 10, time.Hour, time.Hour); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
