package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight/insight-agent/internal/insight"
)

func testGate(cfg Config) *Gate {
	return NewGate(cfg, zap.NewNop())
}

func TestGate_ConcurrencyCeiling(t *testing.T) {
	const k = 3
	const m = 12

	gate := testGate(Config{
		MaxConcurrent: k,
		PerWindow:     0, // window cap disabled, isolate the gate
		Window:        time.Minute,
		MaxWait:       5 * time.Second,
	})

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := gate.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			defer release()

			n := atomic.AddInt64(&inFlight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(k))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}

func TestGate_ThrottledAfterBoundedWait(t *testing.T) {
	gate := testGate(Config{
		MaxConcurrent: 1,
		PerWindow:     0,
		Window:        time.Minute,
		MaxWait:       30 * time.Millisecond,
	})

	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = gate.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, insight.KindThrottled, insight.ClassOf(err))
}

func TestGate_WindowCeiling(t *testing.T) {
	gate := testGate(Config{
		MaxConcurrent: 0,
		PerWindow:     2,
		Window:        time.Minute,
		MaxWait:       30 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		release, err := gate.Acquire(context.Background())
		require.NoError(t, err)
		release()
	}
	assert.Equal(t, 2, gate.WindowUsed())

	// Third start within the window has to wait past MaxWait.
	_, err := gate.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, insight.KindThrottled, insight.ClassOf(err))
}

func TestGate_WindowSlidesForward(t *testing.T) {
	gate := testGate(Config{
		MaxConcurrent: 0,
		PerWindow:     2,
		Window:        50 * time.Millisecond,
		MaxWait:       time.Second,
	})

	for i := 0; i < 2; i++ {
		release, err := gate.Acquire(context.Background())
		require.NoError(t, err)
		release()
	}

	// The earliest start ages out within the bounded wait, so this
	// admission succeeds instead of throttling.
	start := time.Now()
	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	release()
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestGate_CancelledCallerIsTimeout(t *testing.T) {
	gate := testGate(Config{
		MaxConcurrent: 1,
		PerWindow:     0,
		Window:        time.Minute,
		MaxWait:       time.Second,
	})

	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = gate.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, insight.KindTimeout, insight.ClassOf(err))
}

func TestGate_DisabledBoundsAdmitImmediately(t *testing.T) {
	gate := testGate(Config{MaxConcurrent: 0, PerWindow: 0, Window: time.Minute})

	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	release()
}
