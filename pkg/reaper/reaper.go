// Package reaper runs the lease-expiry sweep on a fixed cadence. It is the
// only component that moves leased tasks forward when their worker has gone
// silent, so every coordinator deployment must run exactly one of these per
// process; the per-row lease guards make overlapping sweeps safe.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval bounds how long an abandoned lease can linger past its
// expiry before the sweep notices it.
const DefaultInterval = 30 * time.Second

// Reclaimer is implemented by tasks.Coordinator.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context) (int, error)
}

// Reaper periodically reclaims expired leases until its context is canceled.
type Reaper struct {
	reclaimer Reclaimer
	interval  time.Duration
	logger    *slog.Logger
}

func New(reclaimer Reclaimer, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		reclaimer: reclaimer,
		interval:  interval,
		logger:    slog.Default().With("component", "reaper"),
	}
}

// Run blocks until ctx is canceled. Sweep errors are logged and the cadence
// continues; a transient database failure must not stop lease recovery.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "reaper started", "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.reclaimer.ReclaimExpired(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "reclaim sweep failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "reclaimed expired leases", "count", n)
	}
}
