// Package logging initializes the process-wide structured logger. It is
// one of the two legitimately global pieces of state (config is the
// other); every component takes a *slog.Logger or uses slog.Default()
// after Init has run once at startup.
package logging

import (
	"log/slog"
	"os"
)

func Init(env string) *slog.Logger {
	level := slog.LevelInfo
	if env == "development" {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
