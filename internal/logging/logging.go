package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default slog logger. Production only shows errors;
// LOG_LEVEL raises verbosity.
func Init() {
	InitWriter(os.Stderr, os.Getenv("LOG_LEVEL"))
}

// InitWriter is Init with an explicit destination and level name.
func InitWriter(w io.Writer, levelName string) {
	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(levelName),
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to error.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
