// Package retry wraps fallible network operations with exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int           // total attempts, at least 1
	BaseDelay   time.Duration // delay after the first failed attempt
	MaxDelay    time.Duration // ceiling for the backoff schedule
	Jitter      bool          // multiply delays by a uniform factor in [0.5, 1.0]
}

// DefaultConfig returns the standard retry policy for DAV calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// delayFor computes the sleep after attempt number attempt (1-indexed).
func (c Config) delayFor(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			d = c.MaxDelay
			break
		}
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.Jitter {
		d = time.Duration(float64(d) * (0.5 + 0.5*rand.Float64()))
	}
	return d
}

// Do runs fn up to cfg.MaxAttempts times, sleeping between attempts. Every
// failure is eligible for retry: terminal conditions like ETag conflicts are
// handled above this layer and never enter Do. The last error is returned on
// exhaustion. Context cancellation is honored at every sleep.
func Do(ctx context.Context, logger *slog.Logger, op string, cfg Config, fn func() error) error {
	cfg = cfg.normalized()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delayFor(attempt)
		logger.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"delay", delay,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
