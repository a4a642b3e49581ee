// Package logger provides structured logging functionality for the
// worker and its repositories.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a private type for the logger context key so no other
// package can collide with it.
type contextKey struct{}

// Setup initializes the application's logging system from the
// configured level. It creates a structured JSON logger writing to
// stdout and sets it as the default logger.
//
// An unknown level falls back to info with a warning on stderr.
func Setup(logLevel string) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo

		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", logLevel,
			"default_level", "info")
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// WithLogger returns a copy of ctx carrying the given logger.
// Processors attach per-operation loggers so repository code logs with
// the operation's correlation attributes.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, log)
}

// FromContext returns the logger carried by ctx, or the default logger
// when none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
