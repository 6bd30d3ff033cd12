// Package retry runs fallible operations with a bounded attempt budget.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// DefaultMaxAttempts is the total number of attempts, including the first.
const DefaultMaxAttempts = 3

type options struct {
	baseBackoff time.Duration
	onRetry     func(attempt int, err error)
}

// Option configures Do.
type Option func(*options)

// WithBackoff waits a jittered exponential delay between attempts.
// Without it, attempts follow each other immediately.
func WithBackoff(base time.Duration) Option {
	return func(o *options) {
		o.baseBackoff = base
	}
}

// WithOnRetry registers a hook called after every failed attempt that will be
// retried. attempt is 1-based.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do calls op until it succeeds or maxAttempts attempts have failed.
// maxAttempts <= 0 means DefaultMaxAttempts. Every error is retried the same
// way, and the error of the last attempt is returned as-is.
//
// If ctx ends while waiting for a backoff, Do stops early and still returns
// the last error from op.
func Do[T any](ctx context.Context, maxAttempts int, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}
		if o.onRetry != nil {
			o.onRetry(attempt+1, err)
		}

		if o.baseBackoff > 0 {
			timer := time.NewTimer(Backoff(o.baseBackoff, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, lastErr
			case <-timer.C:
			}
		}
	}
	return zero, lastErr
}

// Backoff returns an exponential delay with full jitter for the given
// zero-based attempt: a random value in [0, base*2^attempt), capped at 60s.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}
	if attempt < 0 {
		attempt = 0
	}

	maxBackoff := time.Duration(float64(base) * math.Pow(2, float64(attempt)))

	const maxAllowed = 60 * time.Second
	if maxBackoff > maxAllowed {
		maxBackoff = maxAllowed
	}

	return time.Duration(rand.Float64() * float64(maxBackoff))
}
