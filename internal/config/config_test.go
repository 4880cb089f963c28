package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
mode = "full"
log_level = "debug"

[ledger]
fee_bps = 100
fee_sink = "treasury"
price_floor = "0.05"
oracles = ["0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"]

[postgres]
enabled = true
dsn = "postgres://u:p@db:5432/snapstake"

[monitor]
creator = "snapstake-monitor"
oracle_account = "0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb"
scan_spec = "@every 5m"

[monitor.thresholds]
delivery = 0.25

[monitor.horizons]
flight = "6h"

[[monitor.targets]]
kind = "flight"
id = "AA100"

[[monitor.targets]]
kind = "delivery"
provider = "ups"
id = "1Z999AA10123456784"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Ledger.FeeBps != 100 || cfg.Ledger.FeeSink != "treasury" {
		t.Errorf("ledger = %+v", cfg.Ledger)
	}
	if cfg.Ledger.PriceFloor.String() != "0.05" || cfg.Ledger.PriceCeiling.String() != "0.99" {
		t.Errorf("price band = [%s, %s]", cfg.Ledger.PriceFloor, cfg.Ledger.PriceCeiling)
	}
	if cfg.Monitor.ScanSpec != "@every 5m" || cfg.Monitor.SweepSpec != "@every 1m" {
		t.Errorf("specs = %q / %q", cfg.Monitor.ScanSpec, cfg.Monitor.SweepSpec)
	}
	if got := cfg.Monitor.Horizons["flight"].Duration; got != 6*time.Hour {
		t.Errorf("flight horizon = %s", got)
	}
	if len(cfg.Monitor.Targets) != 2 || cfg.Monitor.Targets[1].Provider != "ups" {
		t.Errorf("targets = %+v", cfg.Monitor.Targets)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("server port default lost: %d", cfg.Server.Port)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "[ledger]\nfee_bsp = 10\n"))
	if err == nil || !strings.Contains(err.Error(), "ledger.fee_bsp") {
		t.Errorf("err = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SNAPSTAKE_MODE", "server")
	t.Setenv("SNAPSTAKE_LEDGER_FEE_BPS", "0")
	t.Setenv("SNAPSTAKE_LEDGER_ORACLES", " 0xabc , ,0xdef")
	t.Setenv("SNAPSTAKE_PREDICTOR_TIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "server" || cfg.Ledger.FeeBps != 0 {
		t.Errorf("mode=%q fee=%d", cfg.Mode, cfg.Ledger.FeeBps)
	}
	if strings.Join(cfg.Ledger.Oracles, ",") != "0xabc,0xdef" {
		t.Errorf("oracles = %v", cfg.Ledger.Oracles)
	}
	if cfg.Predictor.Timeout.Duration != 3*time.Second {
		t.Errorf("timeout = %s", cfg.Predictor.Timeout)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Ledger.FeeSink = "burn"
	cfg.Notify.TelegramToken = "t"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"unknown mode", "fee_sink", "telegram_chat_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateMonitorNeedsOracle(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Monitor.Creator = "bot"
	cfg.Monitor.OracleAccount = "0xabc"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "ledger.oracles") {
		t.Errorf("err = %v", err)
	}
	cfg.Ledger.Oracles = []string{"0xABC"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateMonitorModeIsRemote(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Postgres.Enabled = true
	cfg.Postgres.DSN = "postgres://u:p@db:5432/snapstake"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted a monitor that opens the ledger store")
	}
	for _, want := range []string{"server_url", "must not open the ledger store"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}

	cfg.Postgres.Enabled = false
	cfg.Monitor.ServerURL = "http://ledger:8000"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if cfg.OwnsLedger() {
		t.Error("monitor mode must not own the ledger")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "tok"
	cfg.Monitor.APIKey = "admin"
	cfg.Ledger.Oracles = []string{"0xabc"}

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != "***" || out.Notify.TelegramToken != "***" {
		t.Errorf("secrets not redacted: %+v", out.Postgres)
	}
	if out.Monitor.APIKey != "***" {
		t.Errorf("monitor api key not redacted")
	}
	if out.S3.SecretKey != "" {
		t.Errorf("empty secret should stay empty, got %q", out.S3.SecretKey)
	}
	out.Ledger.Oracles[0] = "mutated"
	if cfg.Ledger.Oracles[0] != "0xabc" {
		t.Error("redacted copy shares the oracles slice")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load("../../config.example.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Monitor.Targets) != 3 {
		t.Errorf("targets = %d, want 3", len(cfg.Monitor.Targets))
	}
	if got := cfg.Monitor.Horizons["flight"].Duration; got != 12*time.Hour {
		t.Errorf("flight horizon = %v, want 12h", got)
	}
}
