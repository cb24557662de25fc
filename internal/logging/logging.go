// Package logging builds the daemon's slog.Logger from config.LogConfig.
package logging

import (
	"log/slog"
	"os"

	"github.com/dj3m/meshstatic/internal/config"
)

// New builds a logger at the given cfg, backed by a dynamic level so
// callers can adjust verbosity (e.g. on SIGHUP) without rebuilding the
// handler. The returned LevelVar starts at cfg.Level.
func New(cfg config.LogConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}
