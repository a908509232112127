package logging

import (
	"log/slog"
	"sync/atomic"
)

// traceEnabled turns on per-lookup debug logs. A log level of TRACE sets it.
var traceEnabled atomic.Bool

// SetTrace switches per-lookup logging on or off.
func SetTrace(on bool) {
	traceEnabled.Store(on)
}

// TraceDefault logs at DEBUG level to the default logger while tracing is on.
func TraceDefault(msg string, args ...any) {
	if traceEnabled.Load() {
		slog.Debug(msg, args...)
	}
}
