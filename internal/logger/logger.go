package logger

import (
	"log/slog"
	"os"
)

// New creates a structured logger that writes to stdout. Production gets JSON,
// everything else gets the human readable text handler with debug enabled.
func New(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// Discard returns a logger that drops everything. Useful when a component is
// constructed without one.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
