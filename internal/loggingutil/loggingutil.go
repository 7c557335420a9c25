package loggingutil

import (
	"context"
	"io"
	"sync"

	"pkt.systems/pslog"
)

var (
	noOnce   sync.Once
	noLogger pslog.Logger
)

// NoopLogger returns a disabled pslog.Logger that discards all entries.
func NoopLogger() pslog.Logger {
	noOnce.Do(func() {
		noLogger = pslog.NewWithOptions(io.Discard, pslog.Options{
			Mode:     pslog.ModeStructured,
			MinLevel: pslog.Disabled,
		})
	})
	return noLogger
}

// EnsureLogger returns l when non-nil, otherwise it returns a disabled logger.
func EnsureLogger(l pslog.Logger) pslog.Logger {
	if l != nil {
		return l
	}
	return NoopLogger()
}

// ContextLogger returns the logger carried by ctx, falling back to a disabled
// logger so callers never need a nil check.
func ContextLogger(ctx context.Context) pslog.Logger {
	return EnsureLogger(pslog.LoggerFromContext(ctx))
}
