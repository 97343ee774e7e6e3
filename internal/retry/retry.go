// Package retry wraps fallible operations in a bounded retry policy with
// exponential backoff and jitter.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sejmbot/detektor/internal/model"
)

// Policy bounds attempts and shapes the delay between them
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 means uncapped
	Jitter      time.Duration // upper bound of the uniform random addition
}

// FromConfig builds a policy from configuration
func FromConfig(cfg model.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseBackoff,
		MaxDelay:    cfg.MaxBackoff,
		Jitter:      cfg.Jitter,
	}
}

// Backoff returns the delay following failed attempt n (1-based):
// BaseDelay * 2^(n-1), capped at MaxDelay, plus jitter in [0, Jitter].
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = math.MaxInt64 / 2
	}
	delay := p.BaseDelay
	for i := 1; i < attempt && delay > 0 && delay < ceiling; i++ {
		delay *= 2
	}
	delay = min(delay, ceiling)

	if p.Jitter > 0 {
		// #nosec G404 - jitter does not need a cryptographic source
		delay += time.Duration(rand.Int64N(int64(p.Jitter) + 1))
	}
	return delay
}

// Op is one attempt of a retried operation. attempt starts at 1.
type Op[T any] func(ctx context.Context, attempt int) (T, error)

type options struct {
	retryable func(error) bool
	onRetry   func(attempt int, delay time.Duration, err error)
}

// Option customizes Do
type Option func(*options)

// WithRetryable decides whether an error is worth another attempt.
// By default every error is retried.
func WithRetryable(fn func(error) bool) Option {
	return func(o *options) { o.retryable = fn }
}

// WithOnRetry is called before sleeping between attempts
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op until it succeeds, returns a non-retryable error, the policy
// runs out of attempts, or ctx is done. Non-retryable errors are returned
// unchanged; exhaustion is reported as *ExhaustedError.
func Do[T any](ctx context.Context, p Policy, op Op[T], opts ...Option) (T, error) {
	o := options{retryable: func(error) bool { return true }}
	for _, opt := range opts {
		opt(&o)
	}

	maxAttempts := max(p.MaxAttempts, 1)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !o.retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
