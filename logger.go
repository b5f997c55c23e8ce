package lexicore

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with lexicore-specific context.
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

// WithHeadword adds a headword field to the logger.
func (l *Logger) WithHeadword(hw string) *Logger {
	return &Logger{
		Logger: l.Logger.With("headword", hw),
	}
}

// WithSnapshot adds a snapshot_id field to the logger.
func (l *Logger) WithSnapshot(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("snapshot_id", id),
	}
}

// LogIngest logs the outcome of one ingestion run.
func (l *Logger) LogIngest(docs, candidates, committed, failed int, duration time.Duration) {
	l.Info("ingestion run",
		"documents", docs,
		"candidates", candidates,
		"committed", committed,
		"failed", failed,
		"duration", duration,
	)
}

// LogBuild logs a completed artifact build.
func (l *Logger) LogBuild(kind string, entries int, checksum string, duration time.Duration, err error) {
	if err != nil {
		l.Error("build failed",
			"kind", kind,
			"duration", duration,
			"error", err,
		)
		return
	}
	l.Info("build completed",
		"kind", kind,
		"entries", entries,
		"checksum", checksum,
		"duration", duration,
	)
}

// LogCorrection logs one processed correction task.
func (l *Logger) LogCorrection(taskID int64, headword string, err error) {
	if err != nil {
		l.Error("correction failed",
			"task", taskID,
			"headword", headword,
			"error", err,
		)
		return
	}
	l.Info("correction processed",
		"task", taskID,
		"headword", headword,
	)
}
