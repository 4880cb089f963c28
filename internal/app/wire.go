package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	s3blob "github.com/sahil75416/crisisCapital/internal/blob/s3"
	"github.com/sahil75416/crisisCapital/internal/cache/redis"
	"github.com/sahil75416/crisisCapital/internal/config"
	"github.com/sahil75416/crisisCapital/internal/domain"
	"github.com/sahil75416/crisisCapital/internal/ledger"
	"github.com/sahil75416/crisisCapital/internal/notify"
	"github.com/sahil75416/crisisCapital/internal/predictor"
	"github.com/sahil75416/crisisCapital/internal/server/handler"
	"github.com/sahil75416/crisisCapital/internal/service"
	"github.com/sahil75416/crisisCapital/internal/snapshot"
	"github.com/sahil75416/crisisCapital/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. Infrastructure
// fields are nil when the matching section is disabled.
type Dependencies struct {
	Ledger  *ledger.Ledger
	Service *service.LedgerService

	// Stores
	MarketStore   domain.MarketStore
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   *redis.SignalBus
	SignalCache domain.SignalCache

	// Blob storage
	Blobs snapshot.Blobs

	Notifier   *notify.Notifier
	Predictors *predictor.Registry
	Oracle     predictor.OutcomeOracle

	// Health probes keyed by dependency name.
	Health map[string]handler.HealthCheck
}

// PolicyFromConfig converts the ledger section into a ledger.Policy.
func PolicyFromConfig(c config.LedgerConfig) ledger.Policy {
	return ledger.Policy{
		FeeBps:               c.FeeBps,
		FeeSink:              ledger.FeeSink(c.FeeSink),
		PriceFloor:           c.PriceFloor,
		PriceCeiling:         c.PriceCeiling,
		MinHorizon:           c.MinHorizon.Duration,
		MaxHorizon:           c.MaxHorizon.Duration,
		MaxDescriptionLength: c.MaxDescriptionLength,
		MaxStake:             c.MaxStake,
		Oracles:              c.Oracles,
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	book, err := ledger.New(PolicyFromConfig(cfg.Ledger), nil)
	if err != nil {
		return fail("ledger policy", err)
	}
	deps.Ledger = book

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		// Market ids are allocated in memory, so exactly one process may
		// write a given database.
		release, err := pgClient.AcquireWriterLock(ctx)
		if err != nil {
			return fail("postgres writer lock", err)
		}
		closers = append(closers, release)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.SignalCache = redis.NewSignalCache(redisClient)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Blobs = s3Client
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	// --- Predictor feeder ---
	if cfg.Predictor.BaseURL != "" {
		client := predictor.NewClient(cfg.Predictor.BaseURL, cfg.Predictor.APIKey,
			&http.Client{Timeout: cfg.Predictor.Timeout.Duration})
		deps.Predictors = buildRegistry(client, cfg.Predictor, deps.SignalCache)
		deps.Oracle = predictor.NewFeederOracle(client)
	}

	// The ledger service gets only the dependencies that are wired; a nil
	// field disables that side effect.
	ld := service.LedgerDeps{
		Markets:   deps.MarketStore,
		Positions: deps.PositionStore,
		Audit:     deps.AuditStore,
	}
	if deps.SignalBus != nil {
		ld.Bus = deps.SignalBus
	}
	if deps.Notifier.Enabled() {
		ld.Notifier = deps.Notifier
	}
	deps.Service = service.NewLedgerService(book, ld, logger)

	return deps, cleanup, nil
}

// WireMonitor builds what a monitor-only process needs: the optional Redis
// lock so several monitors do not trigger the same job twice.
func WireMonitor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.LockManager, func(), error) {
	if !cfg.Redis.Enabled {
		logger.InfoContext(ctx, "redis disabled, monitor jobs run without a distributed lock")
		return nil, func() {}, nil
	}
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	return redis.NewLockManager(redisClient), func() { _ = redisClient.Close() }, nil
}

// buildRegistry registers one predictor per configured carrier and transit
// system. Tracking numbers without a provider are routed by prefix; the
// first transit system is the transit default.
func buildRegistry(client *predictor.Client, cfg config.PredictorConfig, cache domain.SignalCache) *predictor.Registry {
	wrap := func(p predictor.DelayPredictor, provider string) predictor.DelayPredictor {
		if cache == nil || cfg.CacheTTL.Duration <= 0 {
			return p
		}
		return predictor.NewCached(p, provider, cache, cfg.CacheTTL.Duration)
	}

	reg := predictor.NewRegistry()

	carriers := make(map[string]predictor.DelayPredictor, len(cfg.Carriers))
	for _, c := range cfg.Carriers {
		c = strings.ToLower(strings.TrimSpace(c))
		p := wrap(predictor.NewDelivery(client, c), c)
		carriers[c] = p
		reg.Register(c, p)
	}
	if len(carriers) > 0 {
		reg.Register("", predictor.NewDeliveryRouter(carriers))
	}

	for i, s := range cfg.TransitSystems {
		s = strings.ToLower(strings.TrimSpace(s))
		p := wrap(predictor.NewTransit(client, s), s)
		reg.Register(s, p)
		if i == 0 {
			reg.Register("", p)
		}
	}

	reg.Register("", wrap(predictor.NewFlight(client), "aviation"))
	return reg
}

// jobTimeout returns the per-run bound of scheduled jobs.
func jobTimeout(cfg *config.Config) time.Duration {
	if d := cfg.Monitor.JobTimeout.Duration; d > 0 {
		return d
	}
	return 2 * time.Minute
}
