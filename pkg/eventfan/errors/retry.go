package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls Do.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure; each later wait
	// is multiplied by Multiplier and capped at MaxBackoff (0 means no cap).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// Jitter spreads each wait by up to ±Jitter of its length (0.0-1.0).
	Jitter float64

	// Retryable decides whether a failure is retried. Nil means IsRetryable.
	Retryable func(error) bool

	// OnRetry runs before each wait with the number of the failed attempt.
	OnRetry func(attempt int, err error)
}

// DefaultRetry keeps a delivery well inside a worker's time budget.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Multiplier:     2,
	Jitter:         0.1,
}

// RetryOption adjusts a RetryConfig built by NewRetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the attempt limit.
func WithMaxAttempts(n int) RetryOption {
	return func(c *RetryConfig) { c.MaxAttempts = n }
}

// WithInitialBackoff sets the first wait.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.InitialBackoff = d }
}

// WithMaxBackoff caps the wait.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.MaxBackoff = d }
}

// WithMultiplier sets the growth factor between waits.
func WithMultiplier(f float64) RetryOption {
	return func(c *RetryConfig) { c.Multiplier = f }
}

// WithJitter sets the jitter fraction.
func WithJitter(j float64) RetryOption {
	return func(c *RetryConfig) { c.Jitter = j }
}

// WithRetryable overrides the retry decision.
func WithRetryable(fn func(error) bool) RetryOption {
	return func(c *RetryConfig) { c.Retryable = fn }
}

// WithOnRetry sets the hook run before each wait.
func WithOnRetry(fn func(attempt int, err error)) RetryOption {
	return func(c *RetryConfig) { c.OnRetry = fn }
}

// NewRetryConfig starts from DefaultRetry and applies opts.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Backoff returns the wait after the given failed attempt (1-based),
// before jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	wait := float64(c.InitialBackoff)
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		wait *= mult
		if c.MaxBackoff > 0 && wait >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	return time.Duration(wait)
}

// jitter spreads d by up to ±frac of its length.
func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*frac*(rand.Float64()*2-1))
}

// after is replaced in tests.
var after = time.After

// Do calls fn until it succeeds, fails with a non-retryable error, or runs
// out of attempts. It returns the number of attempts made and the last
// error, unchanged so its category survives. Cancelling ctx stops the loop
// with a permanent error wrapping ctx.Err().
func Do(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) (int, error) {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	limit := max(cfg.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, Permanent(err, "retry cancelled")
		}

		err := fn(ctx)
		if err == nil || attempt == limit || !retryable(err) {
			return attempt, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return attempt, Permanent(ctx.Err(), "retry cancelled")
		case <-after(jitter(cfg.Backoff(attempt), cfg.Jitter)):
		}
	}
}
