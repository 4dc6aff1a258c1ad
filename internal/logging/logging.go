// Package logging configures the global slog logger for the csync binaries.
package logging

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pwntr/tinter"
)

// Setup installs the global slog logger: tinted human-readable output
// on a terminal, JSON otherwise. An unparsable level falls back to info.
func Setup(levelStr string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}

	w := os.Stderr
	var h slog.Handler
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		h = tinter.NewHandler(w, &tinter.Options{
			Level:      level,
			TimeFormat: "15:04:05.000",
		})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(h))
}
