package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestExecutor returns an executor whose sleeps are recorded, not taken.
func newTestExecutor() (*Executor, *[]time.Duration) {
	var slept []time.Duration
	e := New(zerolog.Nop())
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	e, slept := newTestExecutor()

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDo_FailsKTimesThenSucceeds(t *testing.T) {
	e, slept := newTestExecutor()

	const k = 3
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= k {
			return errors.New("transient failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, k+1, calls)

	// Total wait is exactly the sum of the first k computed delays.
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	assert.Equal(t, want, *slept)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	e, slept := newTestExecutor()

	lastErr := errors.New("permanent failure")
	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return lastErr
	})

	assert.Equal(t, lastErr, err)
	assert.Equal(t, DefaultMaxAttempts, calls)
	// No sleep after the final attempt.
	assert.Len(t, *slept, DefaultMaxAttempts-1)
}

func TestDo_RateLimitedDelaysFloored(t *testing.T) {
	e, slept := newTestExecutor()

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("got HTTP 429 from provider")
	})

	require.Error(t, err)
	for _, d := range *slept {
		assert.GreaterOrEqual(t, d, RateLimitFloor)
	}
	// Exponential growth still wins once it exceeds the floor.
	assert.Equal(t, 16*time.Second, (*slept)[3])
}

func TestDo_ContextCanceledDuringSleep(t *testing.T) {
	e := New(zerolog.Nop())
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	opErr := errors.New("fail")
	err := e.Do(context.Background(), func(ctx context.Context) error {
		return opErr
	})

	// The operation failure survives an interrupted wait; the context error
	// is carried in the message.
	assert.ErrorIs(t, err, opErr)
	assert.Contains(t, err.Error(), context.Canceled.Error())
}

func TestDo_DeadlineDuringSleepKeepsTypedError(t *testing.T) {
	e := New(zerolog.Nop())
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		return context.DeadlineExceeded
	}

	opErr := errors.New("unexpected status 500")
	err := e.Do(context.Background(), func(ctx context.Context) error {
		return opErr
	})

	assert.ErrorIs(t, err, opErr)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429 status", errors.New("HTTP 429 Too Many Requests"), true},
		{"rate keyword", errors.New("Rate limit exceeded"), true},
		{"quota keyword", errors.New("QUOTA exhausted for project"), true},
		{"plain network error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}
