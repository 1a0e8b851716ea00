package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/meridian/data"
  sqlite_path: "/tmp/meridian/meridian.db"
server:
  host: "0.0.0.0"
  port: 8080
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  data_url: "https://data.alpaca.markets"
logging:
  level: "info"
  format: "json"
gather:
  us_daily:
    start_date: "2015-01-01"
    batch_size: 500
    rate_limit_per_min: 200
    symbols: ["AAPL", "MSFT", "GOOGL"]
backtest:
  start_date: "2020-01-01"
  end_date: "2024-12-31"
  initial_capital: 100000
  frequency: "quarterly"
  universe: ["AAPL", "MSFT", "GOOGL"]
  selection:
    rule: "top_n"
    top_n: 2
  weighting:
    scheme: "equal"
    min_weight: 0.01
    max_weight: 0.20
  commission_rate: 0.001
  slippage_rate: 0.0005
  filing_lag_days: 60
  max_snapshot_age_days: 400
  risk_free_rate: 0.02
`)

	tmpFile, err := os.CreateTemp("", "meridian-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("ALPACA_API_KEY")
	os.Unsetenv("ALPACA_API_SECRET")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	os.Unsetenv("DATA_DIR")
	os.Unsetenv("SQLITE_PATH")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/meridian/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/meridian/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/meridian/meridian.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/meridian/meridian.db")
	}

	// -- Server --
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q", cfg.Alpaca.APIKey, "test-key")
	}
	if cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q", cfg.Alpaca.APISecret, "test-secret")
	}

	// -- Gather --
	if cfg.Gather.USDaily.BatchSize != 500 {
		t.Errorf("Gather.USDaily.BatchSize = %d, want %d", cfg.Gather.USDaily.BatchSize, 500)
	}
	if len(cfg.Gather.USDaily.Symbols) != 3 {
		t.Errorf("Gather.USDaily.Symbols has %d entries, want 3", len(cfg.Gather.USDaily.Symbols))
	}

	// -- Backtest --
	if cfg.Backtest.InitialCapital != 100000 {
		t.Errorf("Backtest.InitialCapital = %v, want 100000", cfg.Backtest.InitialCapital)
	}
	if cfg.Backtest.Frequency != "quarterly" {
		t.Errorf("Backtest.Frequency = %q, want %q", cfg.Backtest.Frequency, "quarterly")
	}
	if cfg.Backtest.Selection.TopN != 2 {
		t.Errorf("Backtest.Selection.TopN = %d, want 2", cfg.Backtest.Selection.TopN)
	}
	if cfg.Backtest.Weighting.MaxWeight != 0.20 {
		t.Errorf("Backtest.Weighting.MaxWeight = %v, want 0.20", cfg.Backtest.Weighting.MaxWeight)
	}
	if cfg.Backtest.FilingLagDays != 60 {
		t.Errorf("Backtest.FilingLagDays = %d, want 60", cfg.Backtest.FilingLagDays)
	}
	if cfg.Backtest.RiskFreeRate != 0.02 {
		t.Errorf("Backtest.RiskFreeRate = %v, want 0.02", cfg.Backtest.RiskFreeRate)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/data"
backtest:
  initial_capital: 10000
`)

	tmpFile, err := os.CreateTemp("", "meridian-config-defaults-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Unsetenv("DATA_DIR")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Backtest.Frequency != "quarterly" {
		t.Errorf("default Frequency = %q, want %q", cfg.Backtest.Frequency, "quarterly")
	}
	if cfg.Backtest.Selection.Rule != "top_n" {
		t.Errorf("default Selection.Rule = %q, want %q", cfg.Backtest.Selection.Rule, "top_n")
	}
	if cfg.Backtest.Weighting.Scheme != "equal" {
		t.Errorf("default Weighting.Scheme = %q, want %q", cfg.Backtest.Weighting.Scheme, "equal")
	}
	if cfg.Backtest.Weighting.VolLookback != 63 {
		t.Errorf("default VolLookback = %d, want 63", cfg.Backtest.Weighting.VolLookback)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	tmpFile, err := os.CreateTemp("", "meridian-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Set environment overrides.
	os.Setenv("ALPACA_API_KEY", "env-key")
	os.Setenv("DATA_DIR", "/env/data")
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")
	defer os.Unsetenv("ALPACA_API_KEY")
	defer os.Unsetenv("DATA_DIR")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
}
