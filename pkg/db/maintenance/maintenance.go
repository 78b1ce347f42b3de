package maintenance

import (
	"context"
	"log/slog"
	"time"

	"roamgo/pkg/db"
)

// DefaultMaxAge is how long a cache row may go unwritten before startup
// maintenance drops it.
const DefaultMaxAge = 30 * 24 * time.Hour

// Run executes startup maintenance: pruning abandoned cache rows and
// compacting the WAL. Failures are logged and do not stop startup.
// It blocks until completion.
func Run(ctx context.Context, d *db.DB, maxAge time.Duration) {
	slog.Info("Starting database maintenance...")

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if n, err := d.PruneCache(ctx, maxAge); err != nil {
		slog.Error("Cache pruning failed", "error", err)
	} else {
		slog.Info("Cache pruning completed", "removed", n)
	}

	if _, err := d.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		slog.Warn("WAL checkpoint failed", "error", err)
	}
	if _, err := d.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		slog.Warn("PRAGMA optimize failed", "error", err)
	}
}
