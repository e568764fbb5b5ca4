package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config level name to an slog.Level. Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// New builds the process logger. format is "json" or "text"; every record
// carries the correlation IDs found on its context.
func New(w io.Writer, level, format string) *slog.Logger {
	return NewWithLeveler(w, ParseLevel(level), format)
}

// NewWithLeveler is New with a caller-owned level, typically an
// *slog.LevelVar that is changed on config reload.
func NewWithLeveler(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if strings.EqualFold(format, "text") {
		inner = slog.NewTextHandler(w, opts)
	} else {
		inner = slog.NewJSONHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}
