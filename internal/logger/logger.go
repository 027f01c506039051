// Package logger builds the JSON slog logger every process uses.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New logs JSON to stdout at the level named by LOG_LEVEL, tagged with the service name.
func New(service string) *slog.Logger {
	return NewWithWriter(os.Stdout, service, ParseLevel(os.Getenv("LOG_LEVEL")))
}

func NewWithWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}

// ParseLevel defaults to info for empty or unknown values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
