package quiver

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with quiver-specific context.
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

// WithColumn adds a column field to the logger.
func (l *Logger) WithColumn(column string) *Logger {
	return &Logger{
		Logger: l.Logger.With("column", column),
	}
}

// WithStage adds a pipeline stage field to the logger.
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{
		Logger: l.Logger.With("stage", stage),
	}
}

// WithBuild adds a build name field to the logger.
func (l *Logger) WithBuild(build string) *Logger {
	return &Logger{
		Logger: l.Logger.With("build", build),
	}
}

// LogTrainIVF logs an IVF training operation.
func (l *Logger) LogTrainIVF(ctx context.Context, column string, partitions int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ivf training failed",
			"column", column,
			"partitions", partitions,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "ivf training completed",
			"column", column,
			"partitions", partitions,
			"duration", duration,
		)
	}
}

// LogTrainPQ logs a PQ codebook training operation.
func (l *Logger) LogTrainPQ(ctx context.Context, column string, subvectors int, residuals bool, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "pq training failed",
			"column", column,
			"subvectors", subvectors,
			"residuals", residuals,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "pq training completed",
			"column", column,
			"subvectors", subvectors,
			"residuals", residuals,
			"duration", duration,
		)
	}
}

// LogTransform logs a vector transform operation.
func (l *Logger) LogTransform(ctx context.Context, column, output string, rows int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "transform failed",
			"column", column,
			"output", output,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "transform completed",
			"column", column,
			"output", output,
			"rows", rows,
		)
	}
}

// LogShuffle logs a shuffle operation.
func (l *Logger) LogShuffle(ctx context.Context, inputs, partitions int, rows int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "shuffle failed",
			"inputs", inputs,
			"partitions", partitions,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "shuffle completed",
			"inputs", inputs,
			"partitions", partitions,
			"rows", rows,
		)
	}
}

// LogWriteIndex logs an index merge operation.
func (l *Logger) LogWriteIndex(ctx context.Context, output string, rows, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index write failed",
			"output", output,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index sealed",
			"output", output,
			"rows", rows,
			"bytes", bytes,
		)
	}
}

// LogStageSkipped logs a pipeline stage skipped on resume.
func (l *Logger) LogStageSkipped(ctx context.Context, build, stage string) {
	l.InfoContext(ctx, "stage already committed, skipping",
		"build", build,
		"stage", stage,
	)
}
