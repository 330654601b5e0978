// Package logging centralizes the structured logging setup: a log/slog
// handler selected by LOG_FORMAT at the level LOG_LEVEL names.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger from LOG_LEVEL and LOG_FORMAT
// values (already resolved by pkg/config) and installs it via
// slog.SetDefault; components derive their scoped loggers from
// slog.Default().With(...) when they are constructed.
func Init(level, format string) {
	slog.SetDefault(slog.New(newHandler(level, format)))
}

func newHandler(level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
