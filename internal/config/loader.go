package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNAPSTAKE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			keys := make([]string, len(undec))
			for i, k := range undec {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNAPSTAKE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setInt64(&cfg.Ledger.FeeBps, "SNAPSTAKE_LEDGER_FEE_BPS")
	setStr(&cfg.Ledger.FeeSink, "SNAPSTAKE_LEDGER_FEE_SINK")
	setStringSlice(&cfg.Ledger.Oracles, "SNAPSTAKE_LEDGER_ORACLES")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SNAPSTAKE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SNAPSTAKE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.Host, "SNAPSTAKE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SNAPSTAKE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SNAPSTAKE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SNAPSTAKE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SNAPSTAKE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SNAPSTAKE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SNAPSTAKE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SNAPSTAKE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SNAPSTAKE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SNAPSTAKE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SNAPSTAKE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNAPSTAKE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNAPSTAKE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "SNAPSTAKE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SNAPSTAKE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SNAPSTAKE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNAPSTAKE_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNAPSTAKE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNAPSTAKE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNAPSTAKE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SNAPSTAKE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SNAPSTAKE_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform convention
	setStringSlice(&cfg.Server.CORSOrigins, "SNAPSTAKE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKeyHash, "SNAPSTAKE_SERVER_API_KEY_HASH")
	setInt(&cfg.Server.RateLimit, "SNAPSTAKE_SERVER_RATE_LIMIT")

	// ── Monitor ──
	setStr(&cfg.Monitor.ScanSpec, "SNAPSTAKE_MONITOR_SCAN_SPEC")
	setStr(&cfg.Monitor.SweepSpec, "SNAPSTAKE_MONITOR_SWEEP_SPEC")
	setStr(&cfg.Monitor.Creator, "SNAPSTAKE_MONITOR_CREATOR")
	setStr(&cfg.Monitor.OracleAccount, "SNAPSTAKE_MONITOR_ORACLE_ACCOUNT")
	setStr(&cfg.Monitor.ServerURL, "SNAPSTAKE_MONITOR_SERVER_URL")
	setStr(&cfg.Monitor.APIKey, "SNAPSTAKE_MONITOR_API_KEY")

	// ── Predictor ──
	setStr(&cfg.Predictor.BaseURL, "SNAPSTAKE_PREDICTOR_BASE_URL")
	setStr(&cfg.Predictor.APIKey, "SNAPSTAKE_PREDICTOR_API_KEY")
	setDuration(&cfg.Predictor.Timeout, "SNAPSTAKE_PREDICTOR_TIMEOUT")

	// ── Snapshot ──
	setStr(&cfg.Snapshot.Spec, "SNAPSTAKE_SNAPSHOT_SPEC")
	setInt(&cfg.Snapshot.RetentionDays, "SNAPSTAKE_SNAPSHOT_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNAPSTAKE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNAPSTAKE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNAPSTAKE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNAPSTAKE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNAPSTAKE_MODE")
	setStr(&cfg.LogLevel, "SNAPSTAKE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
