package providers

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds same-provider retries.
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
	OnRetry     func(err error, attempt int, delay time.Duration)
}

// LinearBackoff waits attempt × step before the next attempt.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Retry runs fn up to policy.MaxAttempts times. Caller cancellation and
// errors that report themselves as not retryable end the loop immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero T
		err  error
	)

	attempts := max(policy.MaxAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		var result T

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}

		if attempt == attempts || !isRetryable(ctx, err) {
			break
		}

		delay := time.Duration(0)
		if policy.Delay != nil {
			delay = policy.Delay(attempt)
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, err
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Retryable()
	}

	return true
}
