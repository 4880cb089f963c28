// Package app provides the top-level application lifecycle. It wires the
// ledger and its optional infrastructure (stores, caches, blob storage,
// notifications) and starts the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sahil75416/crisisCapital/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, restores the ledger, starts the mode's
// goroutines and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	// monitor mode holds no ledger; it schedules scans and sweeps on the
	// server that does.
	if a.cfg.Mode == "monitor" {
		locks, cleanup, err := WireMonitor(ctx, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("app: wire monitor: %w", err)
		}
		a.closers = append(a.closers, cleanup)
		return a.MonitorMode(ctx, locks)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.restore(ctx, deps); err != nil {
		return fmt.Errorf("app: restore ledger: %w", err)
	}

	switch a.cfg.Mode {
	case "server":
		return a.ServerMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
