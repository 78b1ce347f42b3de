package logging

import (
	"log/slog"
	"sync/atomic"
)

var traceEnabled atomic.Bool

// SetTrace turns the per-event trace logs on or off.
func SetTrace(on bool) { traceEnabled.Store(on) }

// TraceEnabled reports whether trace logs are written.
func TraceEnabled() bool { return traceEnabled.Load() }

// Trace logs at DEBUG when tracing is on. Used for per-fix and per-lookup
// events that would flood a plain debug log.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if traceEnabled.Load() {
		logger.Debug(msg, args...)
	}
}
