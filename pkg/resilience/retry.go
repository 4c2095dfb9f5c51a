package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Executor is one cancellable attempt against a downstream.
type Executor func(ctx context.Context) error

// RetryConfig tunes Retry.
type RetryConfig struct {
	// MaxAttempts caps total attempts, the first included.
	MaxAttempts int

	// InitialBackoff seeds the delay before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the grown delay.
	MaxBackoff time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter spreads each delay by up to ±Jitter fraction so parallel
	// retriers don't synchronize.
	Jitter float64

	// RetryIf filters which errors are worth another attempt. Nil retries
	// every error.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the baseline policy: three attempts, 100ms
// doubling backoff capped at 10s, 10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	return c
}

// Retry runs fn until it succeeds, the attempt budget is spent, ctx is
// cancelled, or RetryIf rules the error terminal. When attempts run out,
// the last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn Executor) error {
	cfg = cfg.withDefaults()

	delay := cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay, cfg.Jitter)):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxBackoff {
			delay = cfg.MaxBackoff
		}
	}
}

// jittered spreads d by up to ±fraction of itself.
func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	spread := 1 + (rand.Float64()*2-1)*fraction
	return time.Duration(float64(d) * spread)
}
