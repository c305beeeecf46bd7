package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSleep records the delays the loop asked for without waiting.
type fakeSleep struct {
	delays []time.Duration
}

func (f *fakeSleep) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func noJitterConfig(attempts int) *Config {
	return &Config{
		MaxAttempts:  attempts,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	err := DoWithSleep(context.Background(), noJitterConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	}, nil, (&fakeSleep{}).sleep)

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExactAttemptCeiling(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := DoWithSleep(context.Background(), noJitterConfig(4), func(ctx context.Context) error {
		calls++
		return boom
	}, func(error) bool { return true }, (&fakeSleep{}).sleep)

	assert.Equal(t, boom, err)
	assert.Equal(t, 4, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("bad credentials")
	calls := 0
	err := DoWithSleep(context.Background(), noJitterConfig(5), func(ctx context.Context) error {
		calls++
		return fatal
	}, func(err error) bool { return false }, (&fakeSleep{}).sleep)

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffCurve(t *testing.T) {
	fs := &fakeSleep{}
	_ = DoWithSleep(context.Background(), noJitterConfig(5), func(ctx context.Context) error {
		return errors.New("transient")
	}, func(error) bool { return true }, fs.sleep)

	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, fs.delays)
}

func TestDo_BackoffCappedAtMaxDelay(t *testing.T) {
	cfg := noJitterConfig(8)
	fs := &fakeSleep{}
	_ = DoWithSleep(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("transient")
	}, func(error) bool { return true }, fs.sleep)

	require.Len(t, fs.delays, 7)
	assert.Equal(t, cfg.MaxDelay, fs.delays[6])
}

type hintedErr struct {
	hint time.Duration
}

func (e *hintedErr) Error() string                     { return "429 slow down" }
func (e *hintedErr) RetryAfter() (time.Duration, bool) { return e.hint, e.hint > 0 }

func TestDo_RetryAfterHintOverridesBackoff(t *testing.T) {
	fs := &fakeSleep{}
	_ = DoWithSleep(context.Background(), noJitterConfig(3), func(ctx context.Context) error {
		return &hintedErr{hint: 3 * time.Second}
	}, func(error) bool { return true }, fs.sleep)

	require.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, fs.delays)
}

func TestDo_RespectsRemainingBudget(t *testing.T) {
	// Deadline is closer than the computed delay: the loop surfaces the
	// last attempt's error instead of sleeping into the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	boom := errors.New("transient")
	calls := 0
	fs := &fakeSleep{}
	err := DoWithSleep(ctx, noJitterConfig(5), func(ctx context.Context) error {
		calls++
		return boom
	}, func(error) bool { return true }, fs.sleep)

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, fs.delays)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := DoWithSleep(ctx, noJitterConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	}, nil, (&fakeSleep{}).sleep)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestBackoff(t *testing.T) {
	cfg := &Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{12, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Backoff(tt.attempt, cfg), "attempt %d", tt.attempt)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	cfg := &Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	for i := 0; i < 50; i++ {
		d := Backoff(1, cfg)
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.LessOrEqual(t, d, 1300*time.Millisecond)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 8*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.True(t, cfg.Jitter)
}
