// Package advisory runs best-effort persistence: failures are logged and
// reported as a value, never propagated as an error.
package advisory

import (
	"context"
	"log/slog"
)

// Sink receives failed writes for observability.
type Sink interface {
	AdvisoryFailed(tier string)
}

// Writer logs and counts failed advisory writes for one component.
type Writer struct {
	logger *slog.Logger
	sink   Sink
}

// New creates a Writer logging through logger. sink may be nil.
func New(logger *slog.Logger, sink Sink) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger, sink: sink}
}

// Write runs fn and reports whether it succeeded. A failure is logged at
// WARN with the tier and operation name and handed to the sink.
func (w *Writer) Write(ctx context.Context, tier, op string, fn func(ctx context.Context) error) bool {
	if err := fn(ctx); err != nil {
		w.logger.Warn("Advisory write failed", "tier", tier, "op", op, "error", err)
		if w.sink != nil {
			w.sink.AdvisoryFailed(tier)
		}
		return false
	}
	return true
}

// Tiers used in log lines and metrics.
const (
	TierLocal  = "local"
	TierRemote = "remote"
)
