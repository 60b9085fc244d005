package main

import (
	"io"
	"log/slog"
	"os"
)

// logger is the CLI's global logger. It discards everything by default;
// initLogger switches it to a stderr text handler once --verbose is set.
var logger *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func initLogger(verbose bool) {
	if !verbose {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		return
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
