// Package ratelimit keeps outbound model calls under the provider's
// ceiling proactively: a counting admission gate over concurrent calls
// plus a rolling-window cap on call starts per minute. Callers block for
// admission up to a bounded wait instead of failing immediately.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/finsight/insight-agent/internal/insight"
)

type Config struct {
	MaxConcurrent int           // in-flight outbound calls; <=0 disables the gate
	PerWindow     int           // call starts per Window; <=0 disables the cap
	Window        time.Duration // rolling window, 60s in production
	MaxWait       time.Duration // bounded admission wait before a throttled failure
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		PerWindow:     30,
		Window:        time.Minute,
		MaxWait:       10 * time.Second,
	}
}

// Gate is process-local shared state; its counters are the only mutable
// state shared across requests besides the response cache. Updates are
// short bounded operations, the model call itself happens outside any
// lock.
type Gate struct {
	cfg Config
	sem *semaphore.Weighted
	log *zap.Logger

	mu     sync.Mutex
	starts []time.Time

	now func() time.Time
}

func NewGate(cfg Config, log *zap.Logger) *Gate {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	g := &Gate{cfg: cfg, log: log, now: time.Now}
	if cfg.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return g
}

// Acquire blocks until both bounds admit a new outbound call, or the
// bounded wait elapses. On success it returns a release func the caller
// must invoke when the call finishes.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if g.cfg.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.cfg.MaxWait)
		defer cancel()
	}

	if g.sem != nil {
		if err := g.sem.Acquire(waitCtx, 1); err != nil {
			return nil, g.classify(ctx, err)
		}
	}

	if err := g.waitForWindow(waitCtx); err != nil {
		if g.sem != nil {
			g.sem.Release(1)
		}
		return nil, g.classify(ctx, err)
	}

	release := func() {
		if g.sem != nil {
			g.sem.Release(1)
		}
	}
	return release, nil
}

func (g *Gate) waitForWindow(ctx context.Context) error {
	if g.cfg.PerWindow <= 0 {
		return nil
	}
	for {
		g.mu.Lock()
		now := g.now()
		g.prune(now)
		if len(g.starts) < g.cfg.PerWindow {
			g.starts = append(g.starts, now)
			g.mu.Unlock()
			return nil
		}
		// Earliest start ages out of the window first.
		wait := g.starts[0].Add(g.cfg.Window).Sub(now)
		g.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (g *Gate) prune(now time.Time) {
	cutoff := now.Add(-g.cfg.Window)
	i := 0
	for i < len(g.starts) && !g.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.starts = g.starts[i:]
	}
}

// classify separates "the admission wait ran out" from "the caller went
// away": the former is a throttled failure the caller may retry later.
func (g *Gate) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return insight.WrapError(insight.KindTimeout, "request cancelled while waiting for admission", parent.Err())
	}
	if g.log != nil {
		g.log.Warn("admission wait exceeded",
			zap.Duration("max_wait", g.cfg.MaxWait),
			zap.Int("per_window", g.cfg.PerWindow),
			zap.Int("max_concurrent", g.cfg.MaxConcurrent))
	}
	return insight.WrapError(insight.KindThrottled, "too many concurrent insight requests, try again shortly", err)
}

// WindowUsed reports how many window slots are currently consumed,
// for metrics.
func (g *Gate) WindowUsed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(g.now())
	return len(g.starts)
}
