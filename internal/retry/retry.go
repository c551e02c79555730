package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxAttempts is the number of times an operation is tried.
	DefaultMaxAttempts = 5

	// DefaultBaseDelay is the base for exponential backoff between attempts.
	DefaultBaseDelay = 2 * time.Second

	// RateLimitFloor is the minimum wait after a rate-limited failure.
	RateLimitFloor = 10 * time.Second
)

// rateLimitTokens are matched against error messages to classify failures.
var rateLimitTokens = []string{"429", "rate", "quota"}

// Operation is a unit of work retried by an Executor.
type Operation func(ctx context.Context) error

// Executor runs operations with bounded, deterministic exponential backoff.
// Rate-limited failures wait at least RateLimitFloor before the next attempt.
// The zero value is not usable; construct with New.
type Executor struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep is injectable for tests. It must respect ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error

	log zerolog.Logger
}

// New creates an Executor with the default attempt budget and base delay.
func New(log zerolog.Logger) *Executor {
	return &Executor{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Sleep:       sleepCtx,
		log:         log,
	}
}

// Do invokes op until it succeeds or MaxAttempts is exhausted, then returns
// the last error. Delays are BaseDelay * 2^attempt, floored at RateLimitFloor
// when the failure is classified as rate-limited. No jitter.
func (e *Executor) Do(ctx context.Context, op Operation) error {
	var lastErr error

	for attempt := 0; attempt < e.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == e.MaxAttempts-1 {
			break
		}

		delay := e.delayFor(attempt, lastErr)
		e.log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_attempts", e.MaxAttempts).
			Dur("delay", delay).
			Msg("Operation failed, retrying")

		// A canceled wait still reports the operation failure; the context
		// error is attached rather than replacing it.
		if err := e.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w (gave up waiting: %v)", lastErr, err)
		}
	}

	return lastErr
}

// delayFor computes the wait before the attempt following the given one.
func (e *Executor) delayFor(attempt int, err error) time.Duration {
	delay := e.BaseDelay * (1 << attempt)
	if IsRateLimited(err) && delay < RateLimitFloor {
		delay = RateLimitFloor
	}
	return delay
}

// IsRateLimited reports whether an error message indicates rate limiting.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, token := range rateLimitTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
