package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the meridian platform.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls data gathering behaviour.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string   `yaml:"start_date"`
	BatchSize       int      `yaml:"batch_size"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	Symbols         []string `yaml:"symbols"`
}

// BacktestConfig holds the default parameters for a backtest run. Most of
// these can be overridden per run through CLI flags or API request fields.
type BacktestConfig struct {
	StartDate          string          `yaml:"start_date"`
	EndDate            string          `yaml:"end_date"`
	InitialCapital     float64         `yaml:"initial_capital"`
	Frequency          string          `yaml:"frequency"` // monthly | quarterly | annual
	Universe           []string        `yaml:"universe"`
	Selection          SelectionConfig `yaml:"selection"`
	Weighting          WeightingConfig `yaml:"weighting"`
	CommissionRate     float64         `yaml:"commission_rate"`
	SlippageRate       float64         `yaml:"slippage_rate"`
	FilingLagDays      int             `yaml:"filing_lag_days"`
	MaxSnapshotAgeDays int             `yaml:"max_snapshot_age_days"`
	RiskFreeRate       float64         `yaml:"risk_free_rate"`
}

// SelectionConfig chooses which ranked candidates make it into the
// portfolio.
type SelectionConfig struct {
	Rule      string  `yaml:"rule"` // top_n | threshold
	TopN      int     `yaml:"top_n"`
	Threshold float64 `yaml:"threshold"`
}

// WeightingConfig chooses how selected candidates are sized.
type WeightingConfig struct {
	Scheme      string  `yaml:"scheme"` // equal | score | inverse_volatility | hint
	MinWeight   float64 `yaml:"min_weight"`
	MaxWeight   float64 `yaml:"max_weight"`
	VolLookback int     `yaml:"vol_lookback"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills in values that are almost never worth spelling out in
// the config file.
func applyDefaults(cfg *Config) {
	if cfg.Backtest.Frequency == "" {
		cfg.Backtest.Frequency = "quarterly"
	}
	if cfg.Backtest.Selection.Rule == "" {
		cfg.Backtest.Selection.Rule = "top_n"
	}
	if cfg.Backtest.Selection.TopN == 0 {
		cfg.Backtest.Selection.TopN = 10
	}
	if cfg.Backtest.Weighting.Scheme == "" {
		cfg.Backtest.Weighting.Scheme = "equal"
	}
	if cfg.Backtest.Weighting.VolLookback == 0 {
		cfg.Backtest.Weighting.VolLookback = 63
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
