package segmap

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with segmap-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithStore adds the store name and path to the logger.
func (l *Logger) WithStore(name, path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("store", name, "path", path),
	}
}

// WithSegment adds a segment index field to the logger.
func (l *Logger) WithSegment(index int) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", index),
	}
}

// LogLoad logs the outcome of LoadExisting.
func (l *Logger) LogLoad(ctx context.Context, loaded bool, segments int, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "load failed",
			"error", err,
		)
	case !loaded:
		l.DebugContext(ctx, "nothing to load")
	default:
		l.InfoContext(ctx, "store loaded",
			"segments", segments,
		)
	}
}

// LogFlush logs a flush.
func (l *Logger) LogFlush(ctx context.Context, dirty int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"dirty_segments", dirty,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "flush completed",
			"dirty_segments", dirty,
		)
	}
}

// LogBackup logs a backup or restore.
func (l *Logger) LogBackup(ctx context.Context, op, name string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"backup", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"backup", name,
			"bytes", bytes,
		)
	}
}
