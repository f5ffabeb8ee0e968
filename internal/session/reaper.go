package session

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically deletes sessions past expiry. It is storage hygiene
// only: correctness never depends on it because readers treat expired
// sessions as logically empty regardless of whether the row still exists.
type Reaper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper creates a reaper sweeping at the given interval.
func NewReaper(store *Store, interval time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reaper{store: store, interval: interval, logger: logger}
}

// Run sweeps until ctx is canceled. Errors are logged and the loop
// continues; a failed sweep just leaves rows for the next one.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("session reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("session reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.store.DeleteExpired(ctx); err != nil {
				r.logger.Warn("session reap sweep failed", "error", err)
			}
		}
	}
}
