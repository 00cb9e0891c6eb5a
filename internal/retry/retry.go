// Package retry runs outbound calls under a bounded attempt policy.
package retry

import (
	"context"
	"time"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// Linear waits base × attempt after the given failed attempt.
func Linear(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. It returns the number of attempts made and the last
// error. Cancelling ctx stops the loop between attempts.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt == maxAttempts || (p.Retryable != nil && !p.Retryable(err)) {
			return attempt, err
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait <= 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return attempt, ctxErr
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return maxAttempts, err
}
