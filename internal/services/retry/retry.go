package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config defines retry behavior
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Backoff multiplier
	Jitter       bool          // Add jitter to delays
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryable decides whether an error should trigger another attempt
type IsRetryable func(error) bool

// Hinted is implemented by errors that carry a server-supplied
// retry-after delay. When present, the hint overrides the computed
// backoff for the next attempt.
type Hinted interface {
	RetryAfter() (time.Duration, bool)
}

// Sleep waits for d or until ctx is done. Swappable so the backoff curve
// is testable without wall-clock waits.
type Sleep func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes fn with retry logic. The loop is explicit: an attempt
// counter, a computed delay, and a bounded ceiling. A delay that would
// overrun the context deadline aborts instead of sleeping into it.
func Do(ctx context.Context, config *Config, fn RetryableFunc, isRetryable IsRetryable) error {
	return DoWithSleep(ctx, config, fn, isRetryable, realSleep)
}

// DoWithSleep is Do with an injected sleeper for tests.
func DoWithSleep(ctx context.Context, config *Config, fn RetryableFunc, isRetryable IsRetryable, sleep Sleep) error {
	if config == nil {
		config = DefaultConfig()
	}
	if sleep == nil {
		sleep = realSleep
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := Backoff(attempt, config)
		if hinted, ok := err.(Hinted); ok {
			if hint, ok := hinted.RetryAfter(); ok && hint > 0 {
				delay = hint
			}
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			// Not enough budget left for another attempt.
			return lastErr
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// Backoff computes the delay after the given attempt (1-based).
func Backoff(attempt int, config *Config) time.Duration {
	if config == nil {
		config = DefaultConfig()
	}
	if attempt <= 0 {
		return config.InitialDelay
	}

	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1)))
	if delay > config.MaxDelay || delay <= 0 {
		delay = config.MaxDelay
	}
	if config.Jitter {
		delay += time.Duration(rand.Float64() * float64(delay) * 0.3)
	}
	return delay
}
