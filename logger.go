package fieldq

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with fieldq-specific context.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithQuery adds a query ID field to the logger.
func (l *Logger) WithQuery(queryID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query", queryID),
	}
}

// WithField adds a field-name field to the logger.
func (l *Logger) WithField(field string) *Logger {
	return &Logger{
		Logger: l.Logger.With("field", field),
	}
}

// WithKind adds a builder-kind field to the logger.
func (l *Logger) WithKind(kind string) *Logger {
	return &Logger{
		Logger: l.Logger.With("kind", kind),
	}
}

// LogBuild logs the outcome of a builder Build call.
func (l *Logger) LogBuild(ctx context.Context, kind, field string, aggregating bool, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"kind", kind,
			"field", field,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "build completed",
			"kind", kind,
			"field", field,
			"aggregating", aggregating,
			"duration", duration,
		)
	}
}

// LogSpill logs that a term overflowed into its cache directory.
func (l *Logger) LogSpill(ctx context.Context, field, dir string, rows int64) {
	l.InfoContext(ctx, "term spilled to cache directory",
		"field", field,
		"dir", dir,
		"rows", rows,
	)
}
