/*
Package config loads server configuration.

SOURCES (later wins):
  1. Default()
  2. TOML file (optional)
  3. Environment variables prefixed POINTS_, e.g. POINTS_SERVER_ADDR,
     POINTS_STORAGE_DRIVER, POINTS_RULES_DAILY_LOGIN
  4. Command-line flags (applied by cmd/server)

EXAMPLE FILE:
  [server]
  addr = ":8080"
  cors_origins = ["https://app.example.com"]

  [storage]
  driver = "sqlite"
  path = "./data/points.db"

  [ledger]
  timezone = "Europe/Paris"

  [rules]
  hard_multiplier = 1.5
*/
package config

import (
	"fmt"
	"time"
	_ "time/tzdata" // ledger.timezone must resolve on hosts without zoneinfo

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/rewards"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "POINTS_"

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
)

type Config struct {
	Server  ServerConfig  `toml:"server" envPrefix:"SERVER_"`
	Storage StorageConfig `toml:"storage" envPrefix:"STORAGE_"`
	Ledger  LedgerConfig  `toml:"ledger" envPrefix:"LEDGER_"`
	Audit   AuditConfig   `toml:"audit" envPrefix:"AUDIT_"`
	Log     LogConfig     `toml:"log" envPrefix:"LOG_"`
	Rules   RulesConfig   `toml:"rules" envPrefix:"RULES_"`
}

type ServerConfig struct {
	Addr         string        `toml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	CORSOrigins  []string      `toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`

	// EnableScenarios exposes the demo scenario endpoints.
	EnableScenarios bool `toml:"enable_scenarios" env:"ENABLE_SCENARIOS"`
}

type StorageConfig struct {
	Driver string `toml:"driver" env:"DRIVER"`
	Path   string `toml:"path" env:"PATH"`
}

type LedgerConfig struct {
	Timezone     string `toml:"timezone" env:"TIMEZONE"`
	HistoryLimit int    `toml:"history_limit" env:"HISTORY_LIMIT"`
}

type AuditConfig struct {
	Enabled  bool          `toml:"enabled" env:"ENABLED"`
	Interval time.Duration `toml:"interval" env:"INTERVAL"`
}

type LogConfig struct {
	Level       string `toml:"level" env:"LEVEL"`
	Development bool   `toml:"development" env:"DEVELOPMENT"`
}

type RulesConfig struct {
	BaseCompletion        int64   `toml:"base_completion" env:"BASE_COMPLETION"`
	PerCorrectAnswer      int64   `toml:"per_correct_answer" env:"PER_CORRECT_ANSWER"`
	SpeedBonus            int64   `toml:"speed_bonus" env:"SPEED_BONUS"`
	SpeedThresholdMinutes float64 `toml:"speed_threshold_minutes" env:"SPEED_THRESHOLD_MINUTES"`
	PerfectScoreBonus     int64   `toml:"perfect_score_bonus" env:"PERFECT_SCORE_BONUS"`
	DailyLogin            int64   `toml:"daily_login" env:"DAILY_LOGIN"`
	HardMultiplier        float64 `toml:"hard_multiplier" env:"HARD_MULTIPLIER"`
}

// Default returns the built-in configuration.
func Default() Config {
	r := rewards.DefaultRules()
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Storage: StorageConfig{Driver: DriverSQLite, Path: "./data/points.db"},
		Ledger:  LedgerConfig{Timezone: "UTC", HistoryLimit: ledger.DefaultHistoryLimit},
		Audit:   AuditConfig{Enabled: true, Interval: time.Hour},
		Log:     LogConfig{Level: "info"},
		Rules: RulesConfig{
			BaseCompletion:        r.BaseCompletion,
			PerCorrectAnswer:      r.PerCorrectAnswer,
			SpeedBonus:            r.SpeedBonus,
			SpeedThresholdMinutes: r.SpeedThresholdMinutes,
			PerfectScoreBonus:     r.PerfectScoreBonus,
			DailyLogin:            r.DailyLogin,
			HardMultiplier:        r.HardMultiplier.InexactFloat64(),
		},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("read config %s: unknown keys %v", path, undecoded)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for driver %q", c.Storage.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage.driver %q (want sqlite, bolt or memory)", c.Storage.Driver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Ledger.HistoryLimit < 0 || c.Ledger.HistoryLimit > ledger.MaxHistoryLimit {
		return fmt.Errorf("config: ledger.history_limit must be between 0 and %d", ledger.MaxHistoryLimit)
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("config: audit.interval must be positive when audit is enabled")
	}
	if _, err := c.Log.ParseLevel(); err != nil {
		return err
	}
	return c.Rules.Rules().Validate()
}

// Location returns the time zone that defines a calendar day.
func (c Config) Location() (*time.Location, error) {
	if c.Ledger.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: ledger.timezone: %w", err)
	}
	return loc, nil
}

// Rules converts the rules section into the rule engine's table.
func (r RulesConfig) Rules() rewards.Rules {
	return rewards.Rules{
		BaseCompletion:        r.BaseCompletion,
		PerCorrectAnswer:      r.PerCorrectAnswer,
		SpeedBonus:            r.SpeedBonus,
		SpeedThresholdMinutes: r.SpeedThresholdMinutes,
		PerfectScoreBonus:     r.PerfectScoreBonus,
		DailyLogin:            r.DailyLogin,
		HardMultiplier:        decimal.NewFromFloat(r.HardMultiplier),
	}
}
