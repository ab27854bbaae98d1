// Package config defines the top-level configuration for the crossarb engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CROSSARB_* environment
// variables.
type Config struct {
	Venues     map[string]VenueConfig `toml:"venues"`
	Symbols    []string               `toml:"symbols"`
	Aggregator AggregatorConfig       `toml:"aggregator"`
	Scanner    ScannerConfig          `toml:"scanner"`
	Risk       RiskConfig             `toml:"risk"`
	Executor   ExecutorConfig         `toml:"executor"`
	Planner    PlannerConfig          `toml:"planner"`
	Postgres   PostgresConfig         `toml:"postgres"`
	Redis      RedisConfig            `toml:"redis"`
	S3         S3Config               `toml:"s3"`
	Notify     NotifyConfig           `toml:"notify"`
	Server     ServerConfig           `toml:"server"`
	Mode       string                 `toml:"mode"`
	LogLevel   string                 `toml:"log_level"`
}

// VenueConfig holds per-venue settings: fee schedule, symbol syntax, rate
// limit, and sandbox/live flag.
type VenueConfig struct {
	MakerFee     float64 `toml:"maker_fee"`
	TakerFee     float64 `toml:"taker_fee"`
	SymbolFormat string  `toml:"symbol_format"`
	RateLimit    int     `toml:"rate_limit"`
	Sandbox      bool    `toml:"sandbox"`
	Enabled      bool    `toml:"enabled"`
	APIKey       string  `toml:"api_key"`
	APISecret    string  `toml:"api_secret"`
	BaseURL      string  `toml:"base_url"`
}

// AggregatorConfig holds price aggregation settings.
type AggregatorConfig struct {
	PollIntervalMS     int `toml:"poll_interval_ms"`
	VenueTimeoutMS     int `toml:"venue_timeout_ms"`
	QuoteMaxAgeMS      int `toml:"quote_max_age_ms"`
	FallbackMaxStaleMS int `toml:"fallback_max_stale_ms"`
	// OutageAlertCycles is the number of consecutive failed cycles after
	// which a venue outage is escalated to the notifier.
	OutageAlertCycles int `toml:"outage_alert_cycles"`
}

// PollInterval returns the poll interval as a duration.
func (a AggregatorConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMS) * time.Millisecond
}

// VenueTimeout returns the per-venue fetch timeout as a duration.
func (a AggregatorConfig) VenueTimeout() time.Duration {
	return time.Duration(a.VenueTimeoutMS) * time.Millisecond
}

// QuoteMaxAge returns the freshness window for scoring quotes.
func (a AggregatorConfig) QuoteMaxAge() time.Duration {
	return time.Duration(a.QuoteMaxAgeMS) * time.Millisecond
}

// FallbackMaxStale returns the staleness bound for cached fallback quotes.
func (a AggregatorConfig) FallbackMaxStale() time.Duration {
	return time.Duration(a.FallbackMaxStaleMS) * time.Millisecond
}

// ScannerConfig holds opportunity scanning thresholds.
type ScannerConfig struct {
	MinProfitPercent   float64 `toml:"min_profit_percent"`
	VolumeSafetyFactor float64 `toml:"volume_safety_factor"`
}

// ProfileConfig defines one named risk profile.
type ProfileConfig struct {
	MaxPositionFraction  float64 `toml:"max_position_fraction"`
	MaxDailyLossFraction float64 `toml:"max_daily_loss_fraction"`
	StopLossPercent      float64 `toml:"stop_loss_percent"`
	TakeProfitPercent    float64 `toml:"take_profit_percent"`
	MaxLeverage          float64 `toml:"max_leverage"`
	MinProfitVsFees      bool    `toml:"min_profit_vs_fees"`
}

// RiskConfig selects the active profile and tunes sizing.
type RiskConfig struct {
	ActiveProfile string                   `toml:"active_profile"`
	Profiles      map[string]ProfileConfig `toml:"profiles"`
	KellyLookback int                      `toml:"kelly_lookback"`
}

// ExecutorConfig holds arbitrage execution settings.
type ExecutorConfig struct {
	SettleDelayMS int `toml:"settle_delay_ms"`
	// SnapshotTolerancePercent bounds how far the live portfolio value may
	// drift from the approval-time snapshot before an execution is aborted.
	SnapshotTolerancePercent float64 `toml:"snapshot_tolerance_percent"`
}

// SettleDelay returns the delay between the buy and sell legs.
func (e ExecutorConfig) SettleDelay() time.Duration {
	return time.Duration(e.SettleDelayMS) * time.Millisecond
}

// PlannerConfig holds hedge/rebalance planner settings.
type PlannerConfig struct {
	Enabled              bool    `toml:"enabled"`
	RebalanceIntervalMin int     `toml:"rebalance_interval_min"`
	MinTradeValue        float64 `toml:"min_trade_value"`
	FlashCrashThreshold  float64 `toml:"flash_crash_threshold"`
	VolatilityFloor      float64 `toml:"volatility_floor"`
	ReturnLookbackDays   int     `toml:"return_lookback_days"`
}

// RebalanceInterval returns the planner cadence.
func (p PlannerConfig) RebalanceInterval() time.Duration {
	return time.Duration(p.RebalanceIntervalMin) * time.Minute
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the candle
// archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Defaults returns a Config populated with sane defaults. Loaded files and
// environment overrides are merged on top.
func Defaults() Config {
	return Config{
		Symbols: []string{"BTC/USDT", "ETH/USDT"},
		Aggregator: AggregatorConfig{
			PollIntervalMS:     2000,
			VenueTimeoutMS:     1500,
			QuoteMaxAgeMS:      5000,
			FallbackMaxStaleMS: 60000,
			OutageAlertCycles:  10,
		},
		Scanner: ScannerConfig{
			MinProfitPercent:   0.5,
			VolumeSafetyFactor: 0.1,
		},
		Risk: RiskConfig{
			ActiveProfile: "moderate",
			KellyLookback: 20,
			Profiles: map[string]ProfileConfig{
				"conservative": {
					MaxPositionFraction:  0.05,
					MaxDailyLossFraction: 0.01,
					StopLossPercent:      2.0,
					TakeProfitPercent:    4.0,
					MaxLeverage:          1.0,
					MinProfitVsFees:      true,
				},
				"moderate": {
					MaxPositionFraction:  0.10,
					MaxDailyLossFraction: 0.02,
					StopLossPercent:      3.0,
					TakeProfitPercent:    6.0,
					MaxLeverage:          2.0,
				},
				"aggressive": {
					MaxPositionFraction:  0.20,
					MaxDailyLossFraction: 0.05,
					StopLossPercent:      5.0,
					TakeProfitPercent:    10.0,
					MaxLeverage:          3.0,
				},
			},
		},
		Executor: ExecutorConfig{
			SettleDelayMS:            500,
			SnapshotTolerancePercent: 5.0,
		},
		Planner: PlannerConfig{
			Enabled:              true,
			RebalanceIntervalMin: 60,
			MinTradeValue:        10,
			FlashCrashThreshold:  0.10,
			VolatilityFloor:      0.02,
			ReturnLookbackDays:   365,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "crossarb",
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		Server:   ServerConfig{Addr: ":8080"},
		Mode:     "scan",
		LogLevel: "info",
	}
}

var validSymbolFormats = map[string]bool{
	"slash":  true,
	"dash":   true,
	"concat": true,
}

// Validate checks the configuration for internal consistency. It is called
// once at startup after Load; an invalid venue or profile fails here rather
// than at call time.
func (c *Config) Validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("config: no venues configured")
	}

	enabled := 0
	for id, v := range c.Venues {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("config: venue with empty identifier")
		}
		if v.TakerFee < 0 || v.TakerFee > 0.1 {
			return fmt.Errorf("config: venue %s: taker fee %.4f out of range [0, 0.1]", id, v.TakerFee)
		}
		if !validSymbolFormats[v.SymbolFormat] {
			return fmt.Errorf("config: venue %s: unknown symbol format %q", id, v.SymbolFormat)
		}
		if v.Enabled {
			enabled++
		}
	}
	if enabled < 2 {
		return fmt.Errorf("config: at least two enabled venues required, got %d", enabled)
	}

	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: no symbols configured")
	}
	for _, s := range c.Symbols {
		if !strings.Contains(s, "/") {
			return fmt.Errorf("config: symbol %q is not in canonical BASE/QUOTE form", s)
		}
	}

	if _, ok := c.Risk.Profiles[c.Risk.ActiveProfile]; !ok {
		return fmt.Errorf("config: active risk profile %q not defined", c.Risk.ActiveProfile)
	}
	if c.Risk.KellyLookback < 2 {
		return fmt.Errorf("config: kelly lookback must be at least 2, got %d", c.Risk.KellyLookback)
	}
	for name, p := range c.Risk.Profiles {
		if p.MaxPositionFraction <= 0 || p.MaxPositionFraction > 1 {
			return fmt.Errorf("config: profile %s: max position fraction %.3f out of range (0, 1]", name, p.MaxPositionFraction)
		}
		if p.MaxDailyLossFraction <= 0 || p.MaxDailyLossFraction > 1 {
			return fmt.Errorf("config: profile %s: max daily loss fraction %.3f out of range (0, 1]", name, p.MaxDailyLossFraction)
		}
		if p.MaxLeverage < 1 {
			return fmt.Errorf("config: profile %s: max leverage %.2f must be >= 1", name, p.MaxLeverage)
		}
	}

	if c.Scanner.MinProfitPercent < 0 {
		return fmt.Errorf("config: min profit percent must be non-negative")
	}
	if c.Scanner.VolumeSafetyFactor <= 0 || c.Scanner.VolumeSafetyFactor > 1 {
		return fmt.Errorf("config: volume safety factor %.3f out of range (0, 1]", c.Scanner.VolumeSafetyFactor)
	}

	switch c.Mode {
	case "scan", "trade", "rebalance", "serve", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	return nil
}

// ActiveProfile resolves the configured risk profile.
func (c *Config) ActiveProfile() ProfileConfig {
	return c.Risk.Profiles[c.Risk.ActiveProfile]
}
