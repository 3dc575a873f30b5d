// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy is returned when a policy allows no attempts.
var ErrInvalidPolicy = errors.New("retry policy must allow at least one attempt")

// BackoffFunc returns how long to wait after the given failed attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// Predicate decides whether an error is worth another attempt.
type Predicate func(err error) bool

// Policy bounds how an operation is retried. A nil Backoff retries
// immediately; a nil Retryable retries nothing.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Retryable   Predicate
	// OnRetry, when set, is called before waiting for the next attempt.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Linear returns a backoff of attempt × step.
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Constant returns the same backoff for every attempt.
func Constant(wait time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return wait
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned unchanged so callers can
// inspect it with errors.Is and errors.As.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidPolicy
	}

	var err error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}

		if attempt == p.MaxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return err
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		sleepErr := Sleep(ctx, wait)
		if sleepErr != nil {
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, errors.Join(err, sleepErr))
		}
	}

	return err
}

// Sleep waits for d or until ctx is done, whichever comes first.
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
