// ABOUTME: Quiet logger for CLI commands.
// ABOUTME: Internal component logs go to stderr at warn level only.

package main

import (
	"log/slog"
	"os"
)

func newCLILogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}
