package offheap

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with offheap-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithType adds the stored value's type to the logger.
func (l *Logger) WithType(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("type", name),
	}
}

// LogAlloc logs a heap allocation.
func (l *Logger) LogAlloc(ctx context.Context, addr uintptr, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "allocation failed",
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "allocation completed",
			"addr", addr,
			"size", size,
		)
	}
}

// LogRelease logs the release of a heap handle.
func (l *Logger) LogRelease(ctx context.Context, addr uintptr, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "release failed",
			"addr", addr,
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "release completed",
			"addr", addr,
			"size", size,
		)
	}
}

// LogMap logs the mapping of a file-backed value.
func (l *Logger) LogMap(ctx context.Context, filename string, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "map failed",
			"filename", filename,
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "map completed",
			"filename", filename,
			"size", size,
		)
	}
}

// LogUnmap logs the release of a file-backed value.
func (l *Logger) LogUnmap(ctx context.Context, filename string, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "unmap failed",
			"filename", filename,
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "unmap completed",
			"filename", filename,
			"size", size,
		)
	}
}

// LogFlush logs a flush of mapped bytes to disk.
func (l *Logger) LogFlush(ctx context.Context, filename string, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"filename", filename,
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"filename", filename,
			"size", size,
		)
	}
}

// LogLeak logs a handle that was garbage collected without being released.
func (l *Logger) LogLeak(ctx context.Context, addr uintptr, size int) {
	l.WarnContext(ctx, "handle leaked without release",
		"addr", addr,
		"size", size,
	)
}

// LogUnclosed logs a file-backed value released by the runtime because it
// became unreachable before Close.
func (l *Logger) LogUnclosed(ctx context.Context, filename string, size int) {
	l.WarnContext(ctx, "file-backed value released without close",
		"filename", filename,
		"size", size,
	)
}
