package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// TickFunc is invoked once per scheduler tick. Implementations must contain
// their own failures; the scheduler never inspects the outcome of a tick.
type TickFunc func(ctx context.Context)

// Scheduler invokes a registered callback on its own cadence
type Scheduler interface {
	// OnTick registers the callback to invoke each tick
	OnTick(fn TickFunc)
}

// Ticker implements Scheduler with a fixed-interval time.Ticker. The callback
// runs once immediately when Run starts, then once per interval.
type Ticker struct {
	interval time.Duration
	logger   *slog.Logger
	fn       TickFunc
}

// NewTicker creates a ticker scheduler with the given tick interval
func NewTicker(interval time.Duration, logger *slog.Logger) *Ticker {
	return &Ticker{
		interval: interval,
		logger:   logger,
	}
}

// OnTick registers the callback to invoke each tick
func (t *Ticker) OnTick(fn TickFunc) {
	t.fn = fn
}

// Run drives the tick loop until the context is cancelled
func (t *Ticker) Run(ctx context.Context) {
	if t.fn == nil {
		t.logger.Warn("scheduler started with no callback registered")
		return
	}

	t.fn(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			t.fn(ctx)
		}
	}
}
