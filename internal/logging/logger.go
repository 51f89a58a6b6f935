// Package logging initializes the application-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// WithUser returns a logger with a user_id field.
func WithUser(userID int64) *slog.Logger {
	return slog.Default().With("user_id", userID)
}

// WithEndpoint returns a logger with an endpoint field.
func WithEndpoint(endpoint string) *slog.Logger {
	return slog.Default().With("endpoint", endpoint)
}
