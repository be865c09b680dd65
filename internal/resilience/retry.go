package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RateLimited is implemented by provider errors that carry a server-mandated
// wait. Retry honours the hint instead of the computed backoff delay.
type RateLimited interface {
	error
	RetryAfterHint() time.Duration
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry fails immediately instead of retrying.
// Used for invalid-input responses that can never succeed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with [Permanent].
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. Default: 1s.
	BaseDelay time.Duration

	// Factor multiplies the delay after each failed attempt. Default: 2.
	Factor float64

	// MaxDelay caps the computed delay. Default: 60s.
	MaxDelay time.Duration
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff between
// attempts. Errors marked [Permanent] abort immediately; errors implementing
// [RateLimited] replace the computed delay with the server's hint. The last
// attempt's error is returned when all attempts fail.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Factor <= 1 {
		cfg.Factor = 2
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}

	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		var rl RateLimited
		if errors.As(lastErr, &rl) {
			wait = rl.RetryAfterHint()
		}
		slog.Warn("retrying after failure",
			"name", cfg.Name,
			"attempt", attempt,
			"wait", wait,
			"error", lastErr)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return fmt.Errorf("%s: all %d attempts failed: %w", cfg.Name, cfg.MaxAttempts, lastErr)
}
