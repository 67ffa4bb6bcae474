package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// LogLevelEnv is the environment variable consulted when no level flag is given.
const LogLevelEnv = "TXGEN_LOG_LEVEL"

// NewLogger creates a structured logger for a txgen component. Output is JSON unless stdout
// is an interactive terminal, in which case the text handler is used. Passing a *slog.LevelVar
// lets the level change at runtime.
func NewLogger(component string, level slog.Leveler) *slog.Logger {
	return newLogger(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())), component, level)
}

func newLogger(w io.Writer, text bool, component string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("component", component)
}

// ParseLogLevel parses a log level string into slog.Level.
// Accepts: debug, info, warn, error (case-insensitive).
// Returns LevelInfo if the input is invalid or empty.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetLogLevel returns the effective log level. The CLI flag wins over TXGEN_LOG_LEVEL,
// which wins over the configured level.
func GetLogLevel(flagLevel, configLevel string) slog.Level {
	if flagLevel != "" {
		return ParseLogLevel(flagLevel)
	}
	if envLevel := os.Getenv(LogLevelEnv); envLevel != "" {
		return ParseLogLevel(envLevel)
	}
	return ParseLogLevel(configLevel)
}
