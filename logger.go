package kmemgo

import (
	"log/slog"
	"os"

	"github.com/hupe1980/kmemgo/platform"
)

// Logger wraps slog.Logger with kmemgo-specific context.
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

// WithPool adds a memory pool field to the logger.
func (l *Logger) WithPool(pool platform.Pool) *Logger {
	return &Logger{
		Logger: l.Logger.With("pool", pool.String()),
	}
}

// WithSize adds a size field to the logger.
func (l *Logger) WithSize(size uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("size", size),
	}
}

// WithAddress adds an emulated physical address field to the logger.
func (l *Logger) WithAddress(addr platform.Address) *Logger {
	return &Logger{
		Logger: l.Logger.With("address", addr.String()),
	}
}

// WithHeap adds a heap name field to the logger.
func (l *Logger) WithHeap(heap string) *Logger {
	return &Logger{
		Logger: l.Logger.With("heap", heap),
	}
}

// LogInitialize logs an initialize operation.
func (l *Logger) LogInitialize(size uint64, pool platform.Pool, required uint64, err error) {
	if err != nil {
		l.Error("initialize failed",
			"size", size,
			"pool", pool.String(),
			"required", required,
			"error", err,
		)
	} else {
		l.Info("initialize completed",
			"size", size,
			"pool", pool.String(),
			"required", required,
		)
	}
}

// LogRollback logs a rollback step taken while unwinding a failed initialize.
func (l *Logger) LogRollback(step string) {
	l.Warn("initialize rollback",
		"step", step,
	)
}

// LogFinalize logs a finalize operation.
func (l *Logger) LogFinalize(size uint64, pool platform.Pool) {
	l.Info("finalize completed",
		"size", size,
		"pool", pool.String(),
	)
}

// LogAllocate logs a slot allocation.
func (l *Logger) LogAllocate(heap string, err error) {
	if err != nil {
		l.Error("allocate failed",
			"heap", heap,
			"error", err,
		)
	} else {
		l.Debug("allocate completed",
			"heap", heap,
		)
	}
}

// LogFree logs a slot free.
func (l *Logger) LogFree(heap string) {
	l.Debug("free completed",
		"heap", heap,
	)
}

// LogSnapshot logs a savestate capture.
func (l *Logger) LogSnapshot(bytes int) {
	l.Info("snapshot captured",
		"bytes", bytes,
	)
}

// LogRestore logs a savestate restore.
func (l *Logger) LogRestore(size uint64, pool platform.Pool, err error) {
	if err != nil {
		l.Error("restore failed",
			"size", size,
			"pool", pool.String(),
			"error", err,
		)
	} else {
		l.Info("restore completed",
			"size", size,
			"pool", pool.String(),
		)
	}
}
