package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds the JSON logger used process-wide, wrapped so records
// emitted inside a traced request pick up trace/span IDs.
func NewLogger(env string) *slog.Logger {
	level := slog.LevelInfo

	if env == "dev" {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(NewTraceHandler(handler))
}
