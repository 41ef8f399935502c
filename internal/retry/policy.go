// Package retry implements the bounded exponential backoff used for calls to
// external providers.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a capped exponential backoff.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Default is the verification policy: 500ms, 1s, 2s ... capped at 8s, 4 attempts.
var Default = Policy{
	Base:        500 * time.Millisecond,
	Cap:         8 * time.Second,
	MaxAttempts: 4,
}

// Delay returns the wait before attempt n+1, n starting at 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Guard the shift so very large attempt counts saturate at Cap.
	if attempt > 32 {
		return p.Cap
	}
	return min(p.Base*time.Duration(1<<(attempt-1)), p.Cap)
}

// Budget is the longest Do can take when every attempt runs for perAttempt.
func (p Policy) Budget(perAttempt time.Duration) time.Duration {
	attempts := max(p.MaxAttempts, 1)
	total := time.Duration(attempts) * perAttempt
	for n := 1; n < attempts; n++ {
		total += p.Delay(n)
	}
	return total
}

// ExhaustedError is returned by Do when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if err := waitOrCancel(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}

// waitOrCancel blocks for d or until ctx is canceled.
func waitOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
