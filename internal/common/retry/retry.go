// Package retry provides a bounded retry policy shared by the delivery
// pipeline, the PDF renderer and the payment gateway client.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls how an operation is retried. Classify decides whether an
// error is worth another attempt; terminal errors are returned immediately.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Classify    func(err error) bool
}

// ExponentialBackoff returns a backoff function starting at base and doubling
// per attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base << (attempt - 1)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// DefaultPolicy retries everything except explicitly terminal errors, three
// attempts with exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(200*time.Millisecond, 2*time.Second),
		Classify:    func(err error) bool { return !IsTerminal(err) },
	}
}

type terminalError struct {
	err error
}

func (t *terminalError) Error() string { return t.err.Error() }
func (t *terminalError) Unwrap() error { return t.err }

// Terminal marks an error as not retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether an error was marked terminal.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}

// Do runs op under the policy. It returns nil on the first success, the error
// unchanged when Classify rejects it, and a wrapped error once attempts are
// exhausted. Context cancellation aborts the wait between attempts.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if policy.Classify != nil && !policy.Classify(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := time.Duration(0)
		if policy.Backoff != nil {
			wait = policy.Backoff(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", policy.MaxAttempts, lastErr)
}
