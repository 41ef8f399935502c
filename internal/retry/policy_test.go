package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func alwaysRetry(error) bool { return true }

func TestPolicy_Delay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 500 * time.Millisecond},
		{attempt: 1, want: 500 * time.Millisecond},
		{attempt: 2, want: time.Second},
		{attempt: 3, want: 2 * time.Second},
		{attempt: 4, want: 4 * time.Second},
		{attempt: 5, want: 8 * time.Second},
		{attempt: 6, want: 8 * time.Second},
		{attempt: 64, want: 8 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Default.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_Budget(t *testing.T) {
	assert.Equal(t, 43500*time.Millisecond, Default.Budget(10*time.Second))
	assert.Equal(t, time.Second, Policy{}.Budget(time.Second))
	assert.Equal(t, 3*time.Second+3*time.Millisecond, Policy{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxAttempts: 3}.Budget(time.Second))
}

func TestPolicy_Do_SucceedsAfterRetries(t *testing.T) {
	p := Policy{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxAttempts: 4}

	calls := 0
	err := p.Do(context.Background(), alwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_Do_Exhausted(t *testing.T) {
	p := Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 4}

	calls := 0
	err := p.Do(context.Background(), alwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
}

func TestPolicy_Do_NonRetryableStopsImmediately(t *testing.T) {
	p := Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 4}
	permanent := errors.New("bad request")

	calls := 0
	err := p.Do(context.Background(), func(err error) bool { return errors.Is(err, errTransient) },
		func(ctx context.Context, attempt int) error {
			calls++
			return permanent
		})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Do_ContextCanceledDuringBackoff(t *testing.T) {
	p := Policy{Base: time.Hour, Cap: time.Hour, MaxAttempts: 4}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Do(ctx, alwaysRetry, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
