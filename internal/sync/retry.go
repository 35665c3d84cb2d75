package sync

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy controls WithRetry. After the i-th failed attempt the wait is Delays[i],
// clamped to the last element; an empty schedule retries immediately.
type RetryPolicy struct {
	Attempts int
	Delays   []time.Duration
}

// DefaultRetryPolicy makes three attempts with two seconds of total backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delays:   []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond},
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt >= len(p.Delays) {
		attempt = len(p.Delays) - 1
	}
	return p.Delays[attempt]
}

// RetryError is returned once every attempt failed. Its message is never empty.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	msg := "unknown error"
	if e.Err != nil && e.Err.Error() != "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s (after %d attempts)", msg, e.Attempts)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// WithRetry calls op until it succeeds or the policy's attempts are used up. Every error
// is retried the same way, so op must be safe to repeat.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts-1 {
			break
		}
		if d := policy.delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, &RetryError{Attempts: attempt + 1, Err: lastErr}
			case <-timer.C:
			}
		}
	}
	return zero, &RetryError{Attempts: attempts, Err: lastErr}
}

// Retry is WithRetry for operations without a result.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	_, err := WithRetry(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
