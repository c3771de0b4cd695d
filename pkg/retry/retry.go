// Package retry holds the delay arithmetic used by devlink: a bounded retry
// loop for one-shot operations such as the NATS dial, and the reconnect
// backoff policy applied by the connection supervisor.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/devlink/errors"
)

// NonRetryableError marks a failure Do must return at once
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable marks err so that Do stops retrying. nil stays nil.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries a NonRetryable mark
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return stderrors.As(err, &nre)
}

// Config bounds a retry loop. Zero fields take the defaults used by Do.
type Config struct {
	MaxAttempts  int           // total attempts, at least 1
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // ceiling for any single delay
	Multiplier   float64       // growth factor between attempts
	AddJitter    bool          // add up to 25% random delay
}

// DefaultConfig is used for startup dependencies
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 || c.Multiplier < 0 {
		return c, fmt.Errorf("retry: %w: negative delay or multiplier", errors.ErrInvalidConfig)
	}
	c.MaxAttempts = max(c.MaxAttempts, 1)
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay < c.InitialDelay {
		return c, fmt.Errorf("retry: %w: MaxDelay below InitialDelay", errors.ErrInvalidConfig)
	}
	return c, nil
}

// wait sleeps for d, returning early with ctx's error
func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds or the attempts run out. Errors marked
// NonRetryable, and those classified invalid or fatal, are returned
// unchanged after the attempt that produced them.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		switch {
		case lastErr == nil:
			return nil
		case IsNonRetryable(lastErr), errors.IsInvalid(lastErr), errors.IsFatal(lastErr):
			return lastErr
		case ctx.Err() != nil:
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		case attempt >= cfg.MaxAttempts:
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
		}

		sleep := delay
		if cfg.AddJitter {
			sleep += Jitter(delay / 4)
		}
		if err := wait(ctx, sleep); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, err)
		}
		delay = grow(delay, cfg.Multiplier, cfg.MaxDelay)
	}
}

// DoWithResult is Do for functions that produce a value
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() (err error) {
		result, err = fn()
		return err
	})
	return result, err
}

// Jitter returns a uniformly random duration in [0, spread).
func Jitter(spread time.Duration) time.Duration {
	if spread <= 0 {
		return 0
	}
	return rand.N(spread)
}

// grow multiplies d, saturating at limit.
func grow(d time.Duration, multiplier float64, limit time.Duration) time.Duration {
	next := float64(d) * multiplier
	if next >= float64(limit) {
		return limit
	}
	return time.Duration(next)
}
