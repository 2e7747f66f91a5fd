// Package logging provides small helpers around log/slog: a context carrier
// so request- and task-scoped loggers flow through call chains, and uniform
// logging of errors, operations, and resource cleanup.
package logging

import (
	"context"
	"io"
	"log/slog"
)

type contextKey struct{}

// WithLogger returns a copy of ctx carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default() if none.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// LogError logs err at error level with optional extra attributes.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	args := append([]any{slog.Any("error", err)}, attrs...)
	logger.Error(msg, args...)
}

// LogOperation logs a named operation at info level.
func LogOperation(logger *slog.Logger, operation string, attrs ...any) {
	args := append([]any{slog.String("operation", operation)}, attrs...)
	logger.Info("operation", args...)
}

// SafeCloseWithLogging closes c and logs any close error instead of
// swallowing it. Meant for defer statements on response bodies and files.
func SafeCloseWithLogging(c io.Closer, logger *slog.Logger, resourceName string) {
	if err := c.Close(); err != nil {
		LogError(logger, "failed to close resource", err,
			slog.String("resource", resourceName))
	}
}
