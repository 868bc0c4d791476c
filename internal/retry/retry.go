// Package retry runs an operation a bounded number of times with a
// caller-supplied backoff between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Backoff returns how long to wait after the given failed attempt (1-based).
type Backoff func(attempt int, err error) time.Duration

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, or attempts are
// exhausted. There is no wait after the final attempt. The last error is
// returned, unwrapped from Permanent; a cancelled ctx returns ctx.Err().
func Do(ctx context.Context, attempts int, backoff Backoff, fn func(ctx context.Context, attempt int) error) error {
	attempts = max(attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}
		if serr := Sleep(ctx, backoff(attempt, err)); serr != nil {
			return serr
		}
	}
	return err
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Linear returns base * attempt.
func Linear(base time.Duration) Backoff {
	return func(attempt int, _ error) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Exponential returns base * 2^(attempt-1), capped at limit when limit > 0.
func Exponential(base, limit time.Duration) Backoff {
	return func(attempt int, _ error) time.Duration {
		d := base << (max(attempt, 1) - 1)
		if limit > 0 && (d > limit || d < 0) {
			return limit
		}
		return d
	}
}
