// Package config defines the top-level configuration of the ledger service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNAPSTAKE_* environment variables.
type Config struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Predictor PredictorConfig `toml:"predictor"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// LedgerConfig holds the market rules.
type LedgerConfig struct {
	FeeBps               int64           `toml:"fee_bps"`
	FeeSink              string          `toml:"fee_sink"` // "pool" or "treasury"
	PriceFloor           decimal.Decimal `toml:"price_floor"`
	PriceCeiling         decimal.Decimal `toml:"price_ceiling"`
	MinHorizon           duration        `toml:"min_horizon"`
	MaxHorizon           duration        `toml:"max_horizon"`
	MaxDescriptionLength int             `toml:"max_description_length"`
	MaxStake             decimal.Decimal `toml:"max_stake"`
	// Oracles may resolve any market at any time.
	Oracles []string `toml:"oracles"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	RunMigrations bool     `toml:"run_migrations"`
	FlushInterval duration `toml:"flush_interval"` // retry period for failed writes
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKeyHash is a bcrypt hash of the admin API key.
	APIKeyHash  string   `toml:"api_key_hash"`
	RateLimit   int      `toml:"rate_limit"` // requests per window per client; 0 disables
	RateWindow  duration `toml:"rate_window"`
	// TrustProxy takes client IPs from X-Forwarded-For for rate limiting.
	TrustProxy  bool     `toml:"trust_proxy_headers"`
	WSReplay    int      `toml:"ws_replay"` // events replayed to new websocket clients
	ShutdownFor duration `toml:"shutdown_timeout"`
}

// TargetConfig is one subject the crisis monitor watches.
type TargetConfig struct {
	Kind     string `toml:"kind"`
	Provider string `toml:"provider"`
	ID       string `toml:"id"`
}

// MonitorConfig holds crisis monitor and expiry sweeper parameters.
type MonitorConfig struct {
	ScanSpec      string              `toml:"scan_spec"`
	SweepSpec     string              `toml:"sweep_spec"`
	JobTimeout    duration            `toml:"job_timeout"`
	Concurrency   int                 `toml:"concurrency"`
	Creator       string              `toml:"creator"`
	OracleAccount string              `toml:"oracle_account"`
	Thresholds    map[string]float64  `toml:"thresholds"`
	Horizons      map[string]duration `toml:"horizons"`
	Targets       []TargetConfig      `toml:"targets"`
	// ServerURL and APIKey are used by mode "monitor", which triggers scans
	// and sweeps on the server that owns the ledger.
	ServerURL string `toml:"server_url"`
	APIKey    string `toml:"api_key"`
}

// PredictorConfig points at the prediction feeder.
type PredictorConfig struct {
	BaseURL        string   `toml:"base_url"`
	APIKey         string   `toml:"api_key"`
	Timeout        duration `toml:"timeout"`
	CacheTTL       duration `toml:"cache_ttl"`
	Carriers       []string `toml:"carriers"`
	TransitSystems []string `toml:"transit_systems"`
}

// SnapshotConfig holds ledger snapshot parameters.
type SnapshotConfig struct {
	Spec          string `toml:"spec"`
	RetentionDays int    `toml:"retention_days"`
	RestoreOnBoot bool   `toml:"restore_on_boot"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			FeeBps:               250,
			FeeSink:              "pool",
			PriceFloor:           decimal.New(1, -2),
			PriceCeiling:         decimal.New(99, -2),
			MinHorizon:           duration{time.Hour},
			MaxHorizon:           duration{7 * 24 * time.Hour},
			MaxDescriptionLength: 512,
			MaxStake:             decimal.New(1, 12),
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "snapstake",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			FlushInterval: duration{15 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "snapstake:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "snapstake",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
			WSReplay:    50,
			ShutdownFor: duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			ScanSpec:    "@every 10m",
			SweepSpec:   "@every 1m",
			JobTimeout:  duration{2 * time.Minute},
			Concurrency: 4,
		},
		Predictor: PredictorConfig{
			BaseURL:        "http://localhost:5001",
			Timeout:        duration{10 * time.Second},
			CacheTTL:       duration{5 * time.Minute},
			Carriers:       []string{"ups", "fedex", "amazon"},
			TransitSystems: []string{"nyc_subway", "bus", "train"},
		},
		Snapshot: SnapshotConfig{
			Spec:          "0 */15 * * * *",
			RetentionDays: 30,
			RestoreOnBoot: true,
		},
		Notify: NotifyConfig{
			Events:   []string{"market_created", "market_resolved", "ledger_fatal"},
			Cooldown: duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validKinds = map[string]bool{"delivery": true, "transit": true, "flight": true}

// RunsMonitor reports whether the mode schedules the crisis monitor.
func (c *Config) RunsMonitor() bool { return c.Mode == "monitor" || c.Mode == "full" }

// OwnsLedger reports whether the mode holds the in-memory ledger. Mode
// "monitor" never does; it drives a server over HTTP.
func (c *Config) OwnsLedger() bool { return c.Mode == "server" || c.Mode == "full" }

// RunsServer reports whether the mode serves the HTTP API.
func (c *Config) RunsServer() bool { return c.Mode == "server" || c.Mode == "full" }

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger rules are checked in full by ledger.Policy.Validate; only
	// the values that are config-specific are checked here.
	if c.Ledger.FeeSink != "pool" && c.Ledger.FeeSink != "treasury" {
		errs = append(errs, fmt.Sprintf("ledger: fee_sink must be pool or treasury, got %q", c.Ledger.FeeSink))
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be within [0, pool_max_conns]")
		}
		if c.Postgres.FlushInterval.Duration <= 0 {
			errs = append(errs, "postgres: flush_interval must be positive")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		if h := c.Server.APIKeyHash; h != "" && !strings.HasPrefix(h, "$2") {
			errs = append(errs, "server: api_key_hash must be a bcrypt hash")
		}
	}

	if c.Mode == "monitor" {
		if strings.TrimSpace(c.Monitor.ServerURL) == "" {
			errs = append(errs, "monitor: server_url must be set in monitor mode")
		}
		if c.Postgres.Enabled {
			errs = append(errs, "postgres: monitor mode drives a server over HTTP and must not open the ledger store")
		}
	}

	if c.Mode == "full" {
		if c.Monitor.Creator == "" {
			errs = append(errs, "monitor: creator must be set")
		}
		if c.Monitor.OracleAccount == "" {
			errs = append(errs, "monitor: oracle_account must be set so expired markets can be resolved")
		}
		if c.Predictor.BaseURL == "" {
			errs = append(errs, "predictor: base_url must not be empty")
		}
	}

	if c.OwnsLedger() {
		if c.Monitor.OracleAccount != "" && !containsFold(c.Ledger.Oracles, c.Monitor.OracleAccount) {
			errs = append(errs, "monitor: oracle_account must be listed in ledger.oracles")
		}
		if c.Monitor.Concurrency < 1 {
			errs = append(errs, "monitor: concurrency must be >= 1")
		}
		for i, t := range c.Monitor.Targets {
			if !validKinds[t.Kind] {
				errs = append(errs, fmt.Sprintf("monitor: targets[%d]: unknown kind %q", i, t.Kind))
			}
			if strings.TrimSpace(t.ID) == "" {
				errs = append(errs, fmt.Sprintf("monitor: targets[%d]: id must not be empty", i))
			}
		}
		for k, v := range c.Monitor.Thresholds {
			if !validKinds[k] || v < 0 || v >= 1 {
				errs = append(errs, fmt.Sprintf("monitor: threshold %s=%v must be a known kind in [0, 1)", k, v))
			}
		}
		for k := range c.Monitor.Horizons {
			if !validKinds[k] {
				errs = append(errs, fmt.Sprintf("monitor: horizon for unknown kind %q", k))
			}
		}
	}

	if c.Mode == "full" && c.S3.Enabled && c.Snapshot.RetentionDays < 1 {
		errs = append(errs, "snapshot: retention_days must be >= 1")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}
