// Package resilience provides retry and circuit-breaking for calls to
// upstream model providers.
package resilience

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig contains configuration for the retry policy.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff factor.
	Multiplier float64
	// JitterFactor perturbs each delay by up to +/- this fraction.
	JitterFactor float64
}

// DefaultRetryConfig returns the standard retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// retryableError marks an error as explicitly retryable.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// MarkRetryable wraps an error so that IsRetryable reports true for it
// regardless of its message.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// transientSignatures are message fragments that indicate a transient
// upstream failure: rate limits, server-side errors, and common network
// conditions.
var transientSignatures = []string{
	"429",
	"rate limit",
	"too many requests",
	"500",
	"502",
	"503",
	"529",
	"server error",
	"internal error",
	"overloaded",
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"temporarily unavailable",
}

// IsRetryable reports whether an error should be retried. An error is
// retryable if it was explicitly marked via MarkRetryable or if its message
// matches a known transient-failure signature. All other errors fail
// immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var marked *retryableError
	if errors.As(err, &marked) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Retrier executes a single fallible operation with exponential backoff.
// Each call site decides whether to wrap; the attempt counter is scoped to
// one Do call and never persisted.
type Retrier struct {
	cfg RetryConfig
}

// NewRetrier creates a Retrier with the given configuration. Zero values
// fall back to the defaults.
func NewRetrier(cfg RetryConfig) *Retrier {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = def.JitterFactor
	}
	return &Retrier{cfg: cfg}
}

// Do runs op, retrying transient failures up to MaxRetries times with
// exponential backoff and jitter. Non-retryable errors are returned after a
// single attempt. When retries are exhausted the last error is returned
// unchanged so callers can still classify it.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt - 1)
			log.Printf("[retry] attempt %d/%d after %v: %v", attempt, r.cfg.MaxRetries, delay.Round(time.Millisecond), lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

// delayFor computes the backoff delay for the given zero-indexed attempt:
// min(maxDelay, initialDelay * multiplier^n), perturbed by up to
// +/- jitterFactor of the delay.
func (r *Retrier) delayFor(attempt int) time.Duration {
	delay := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(attempt))
	if delay > float64(r.cfg.MaxDelay) {
		delay = float64(r.cfg.MaxDelay)
	}

	jitter := (rand.Float64()*2 - 1) * r.cfg.JitterFactor * delay
	delay += jitter
	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}
