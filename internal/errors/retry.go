package errors

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig is an exponential backoff schedule.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig is used when probing backend endpoints at startup.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the pause before retry n, counting from zero.
func (c RetryConfig) Delay(n int) time.Duration {
	d := float64(c.InitialDelay)
	for range n {
		d *= c.Multiplier
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, the schedule runs out, or ctx is done.
// Only startup paths use it; document writes are never retried.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var err error
	for n := 0; ; n++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil {
			return nil
		}
		if n == cfg.MaxRetries {
			return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, err)
		}
		if waitErr := sleep(ctx, cfg.Delay(n)); waitErr != nil {
			return waitErr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
