package core

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds how often a failing operation is re-attempted.
type RetryPolicy struct {
	MaxRetries  int           // Retries after the first attempt
	BackoffBase time.Duration // Delay before retry n is BackoffBase * 2^n
}

// Backoff returns the delay after the given zero-based failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return p.BackoffBase * time.Duration(1<<uint(attempt))
}

// RetryFunc is notified before each backoff wait.
type RetryFunc func(attempt int, delay time.Duration, err error)

// retryWithBackoff runs op until it succeeds, the policy is exhausted or
// the run is cancelled. It makes at most MaxRetries+1 attempts and returns
// the last operation error. Cancellation abandons the remaining retries but
// still reports the last operation error, since the row was attempted.
func retryWithBackoff(ctx context.Context, ctl *Control, policy RetryPolicy, op func() error, onRetry RetryFunc) (attempts int, err error) {
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attempts++
		err = op()
		if err == nil {
			return attempts, nil
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if waitErr := ctl.Sleep(ctx, delay); waitErr != nil {
			if errors.Is(waitErr, ErrCancelled) || ctx.Err() != nil {
				return attempts, err
			}
		}
	}
	return attempts, err
}
