package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Driver is the heartbeat: it calls Core.Tick once per second until its
// context is cancelled. All timekeeping (check-in deadlines, match
// lifetimes, expiry timers) derives from this tick.
type Driver struct {
	core     *Core
	logger   *zap.Logger
	interval time.Duration
}

func NewDriver(core *Core, logger *zap.Logger) *Driver {
	return &Driver{core: core, logger: logger, interval: time.Second}
}

// Run blocks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.logger.Info("Driver started", zap.Duration("interval", d.interval))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Driver stopped")
			return
		case now := <-ticker.C:
			d.tick(ctx, now)
		}
	}
}

func (d *Driver) tick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Tick panicked", zap.Any("panic", r))
		}
	}()
	d.core.Tick(ctx, now)
}
