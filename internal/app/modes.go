package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sahil75416/crisisCapital/internal/config"
	"github.com/sahil75416/crisisCapital/internal/domain"
	"github.com/sahil75416/crisisCapital/internal/monitor"
	"github.com/sahil75416/crisisCapital/internal/server"
	"github.com/sahil75416/crisisCapital/internal/server/handler"
	"github.com/sahil75416/crisisCapital/internal/server/ws"
	"github.com/sahil75416/crisisCapital/internal/service"
	"github.com/sahil75416/crisisCapital/internal/snapshot"
)

// restore fills the ledger before any mode starts. Postgres is authoritative;
// the latest S3 snapshot is only used when the store is empty.
func (a *App) restore(ctx context.Context, deps *Dependencies) error {
	n, err := deps.Service.LoadFromStore(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "ledger loaded from postgres", slog.Int("markets", n))
		return nil
	}
	if deps.Blobs == nil || !a.cfg.Snapshot.RestoreOnBoot {
		return nil
	}

	snaps := snapshot.NewService(deps.Ledger, deps.Blobs, retention(a.cfg), a.logger)
	st, err := snaps.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		a.logger.InfoContext(ctx, "no snapshot found, starting with an empty ledger")
		return nil
	}
	if err != nil {
		return err
	}
	if err := deps.Service.Restore(ctx, st); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "ledger restored from snapshot",
		slog.Int("markets", len(st.Markets)),
		slog.Time("taken_at", st.TakenAt),
	)
	return nil
}

// ServerMode runs the HTTP API, the websocket hub and the store flusher.
// Crisis scans and sweeps run only when a monitor process triggers them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, gctx := errgroup.WithContext(ctx)
	a.startFlusher(gctx, g, deps)
	a.startHTTPServer(gctx, g, deps, a.crisisMonitor(deps), a.expirySweeper(deps))
	return g.Wait()
}

// MonitorMode schedules crisis scans and expiry sweeps on the server at
// monitor.server_url. It never opens the ledger or its store.
func (a *App) MonitorMode(ctx context.Context, locks domain.LockManager) error {
	remote := monitor.NewRemote(a.cfg.Monitor.ServerURL, a.cfg.Monitor.APIKey, nil)
	sched, err := a.scheduler(locks, remote, remote)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "monitor driving remote ledger", slog.String("server_url", a.cfg.Monitor.ServerURL))
	return sched.Run(ctx)
}

// FullMode runs the server, the monitor jobs and periodic snapshots in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	crisis := a.crisisMonitor(deps)
	sweeper := a.expirySweeper(deps)
	if crisis == nil || sweeper == nil {
		return fmt.Errorf("app: full mode needs predictor.base_url, monitor.creator and monitor.oracle_account")
	}
	sched, err := a.scheduler(deps.LockManager, crisis, sweeper)
	if err != nil {
		return err
	}

	if deps.Blobs != nil {
		snaps := snapshot.NewService(deps.Ledger, deps.Blobs, retention(a.cfg), a.logger)
		err := sched.Add("snapshot", a.cfg.Snapshot.Spec, jobTimeout(a.cfg), func(ctx context.Context) error {
			path, err := snaps.Take(ctx)
			if err != nil {
				return err
			}
			pruned, err := snaps.Prune(ctx)
			if err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "snapshot written",
				slog.String("path", path),
				slog.Int("pruned", pruned),
			)
			return nil
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	a.startFlusher(gctx, g, deps)
	a.startHTTPServer(gctx, g, deps, crisis, sweeper)
	g.Go(func() error { return sched.Run(gctx) })
	return g.Wait()
}

func (a *App) startFlusher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.MarketStore == nil {
		return
	}
	interval := a.cfg.Postgres.FlushInterval.Duration
	g.Go(func() error { return deps.Service.RunFlusher(ctx, interval) })
}

// startHTTPServer launches the API server and shuts it down gracefully when
// ctx is cancelled. crisis and sweeper may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, crisis *monitor.CrisisMonitor, sweeper *monitor.ExpirySweeper) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, deps.SignalBus, ws.Config{
			Channel:        service.ChannelLedgerEvents,
			Stream:         service.StreamLedgerEvents,
			ReplayCount:    a.cfg.Server.WSReplay,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		}, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Health, a.logger),
		Markets: handler.NewMarketHandler(deps.Service, deps.Ledger, deps.AuditStore, a.logger),
		Users:   handler.NewUserHandler(deps.Ledger, a.logger),
	}
	if crisis != nil {
		var sw handler.Sweeper
		if sweeper != nil {
			sw = sweeper
		}
		handlers.Crisis = handler.NewCrisisHandler(crisis, sw, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeyHash:  a.cfg.Server.APIKeyHash,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		TrustProxy:  a.cfg.Server.TrustProxy,
	}, handlers, deps.RateLimiter, hub, a.logger)

	g.Go(func() error {
		a.logger.Info("http server listening", slog.Int("port", a.cfg.Server.Port))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a.cfg))
		defer cancel()
		a.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
}

// crisisMonitor returns nil unless a predictor feeder and a creator account
// are configured.
func (a *App) crisisMonitor(deps *Dependencies) *monitor.CrisisMonitor {
	if deps.Predictors == nil || a.cfg.Monitor.Creator == "" {
		return nil
	}
	return monitor.NewCrisisMonitor(deps.Predictors, deps.Service, deps.Ledger, crisisConfig(a.cfg.Monitor), a.logger)
}

// expirySweeper returns nil unless an outcome oracle and an oracle account
// are configured.
func (a *App) expirySweeper(deps *Dependencies) *monitor.ExpirySweeper {
	if deps.Oracle == nil || a.cfg.Monitor.OracleAccount == "" {
		return nil
	}
	return monitor.NewExpirySweeper(deps.Ledger, deps.Service, deps.Oracle, a.cfg.Monitor.OracleAccount, a.logger)
}

type jobScanner interface {
	Scan(ctx context.Context) (monitor.ScanReport, error)
}

type jobSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// scheduler registers the crisis scan and the expiry sweep. locks may be nil.
func (a *App) scheduler(locks domain.LockManager, scan jobScanner, sweep jobSweeper) (*monitor.Scheduler, error) {
	sched := monitor.NewScheduler(locks, a.logger)
	timeout := jobTimeout(a.cfg)

	err := sched.Add("crisis_scan", a.cfg.Monitor.ScanSpec, timeout, func(ctx context.Context) error {
		report, err := scan.Scan(ctx)
		if err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "crisis scan complete",
			slog.Int("checked", report.Checked),
			slog.Int("created", report.Created),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", report.Failed),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = sched.Add("expiry_sweep", a.cfg.Monitor.SweepSpec, timeout, func(ctx context.Context) error {
		n, err := sweep.Sweep(ctx)
		if n > 0 {
			a.logger.InfoContext(ctx, "expired markets resolved", slog.Int("resolved", n))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

// crisisConfig converts the monitor section into the monitor's own types.
func crisisConfig(c config.MonitorConfig) monitor.CrisisConfig {
	cc := monitor.CrisisConfig{
		Thresholds:  make(map[domain.CrisisKind]float64, len(c.Thresholds)),
		Horizons:    make(map[domain.CrisisKind]time.Duration, len(c.Horizons)),
		Creator:     c.Creator,
		Concurrency: c.Concurrency,
	}
	for k, v := range c.Thresholds {
		cc.Thresholds[domain.CrisisKind(strings.ToLower(k))] = v
	}
	for k, v := range c.Horizons {
		cc.Horizons[domain.CrisisKind(strings.ToLower(k))] = v.Duration
	}
	for _, t := range c.Targets {
		cc.Targets = append(cc.Targets, monitor.Target{
			Kind:     domain.CrisisKind(strings.ToLower(t.Kind)),
			Provider: t.Provider,
			ID:       t.ID,
		})
	}
	return cc
}

func retention(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Snapshot.RetentionDays) * 24 * time.Hour
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if d := cfg.Server.ShutdownFor.Duration; d > 0 {
		return d
	}
	return 10 * time.Second
}
