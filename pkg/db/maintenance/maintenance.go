package maintenance

import (
	"context"
	"log/slog"
	"time"

	"bairrosgo/pkg/db"
	"bairrosgo/pkg/store"
)

// lastRunKey records when maintenance last completed.
const lastRunKey = "maintenance_last_run"

// Options select what to prune. Zero values disable the respective step.
type Options struct {
	CacheTTL         time.Duration
	HistoryRetention time.Duration
}

// Run prunes expired cache entries and old query history.
// Failures are logged, not returned, so startup is never blocked by housekeeping.
func Run(ctx context.Context, s store.StateStore, d *db.DB, opts Options) error {
	slog.Info("Starting database maintenance...")

	if opts.CacheTTL > 0 {
		if n, err := d.PruneCache(opts.CacheTTL); err != nil {
			slog.Error("Cache pruning failed", "error", err)
		} else {
			slog.Info("Cache pruning completed", "removed", n)
		}
	}

	if opts.HistoryRetention > 0 {
		if n, err := d.PruneQueries(opts.HistoryRetention); err != nil {
			slog.Error("History pruning failed", "error", err)
		} else {
			slog.Info("History pruning completed", "removed", n)
		}
	}

	if err := s.SetState(ctx, lastRunKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("Failed to record maintenance run", "error", err)
	}
	return nil
}

// LastRun reports when maintenance last completed.
func LastRun(ctx context.Context, s store.StateStore) (time.Time, bool) {
	v, ok := s.GetState(ctx, lastRunKey)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
