package imgmatch

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with matcher-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// WithAlgorithm adds an algorithm field to the logger.
func (l *Logger) WithAlgorithm(spec string) *Logger {
	return &Logger{
		Logger: l.Logger.With("algorithm", spec),
	}
}

// WithItem adds an item ID field to the logger.
func (l *Logger) WithItem(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("item", id),
	}
}

// LogAddImage logs an add-image operation.
func (l *Logger) LogAddImage(ctx context.Context, id string, algorithms int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add image failed",
			"item", id,
			"algorithms", algorithms,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add image completed",
			"item", id,
			"algorithms", algorithms,
		)
	}
}

// LogMatch logs a match operation.
func (l *Logger) LogMatch(ctx context.Context, stages, results int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "match failed",
			"stages", stages,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "match completed",
			"stages", stages,
			"results", results,
			"duration", duration,
		)
	}
}

// LogAlgorithmChange logs a pipeline change.
func (l *Logger) LogAlgorithmChange(ctx context.Context, action, spec string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pipeline change failed",
			"action", action,
			"algorithm", spec,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "pipeline changed",
			"action", action,
			"algorithm", spec,
		)
	}
}

// LogSave logs a snapshot save.
func (l *Logger) LogSave(ctx context.Context, target string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"target", target,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"target", target,
			"bytes", bytes,
		)
	}
}

// LogLoad logs a snapshot load.
func (l *Logger) LogLoad(ctx context.Context, source string, items int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot load failed",
			"source", source,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot loaded",
			"source", source,
			"items", items,
		)
	}
}
