package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Venues = map[string]VenueConfig{
		"binance": {TakerFee: 0.001, SymbolFormat: "concat", Enabled: true},
		"kraken":  {TakerFee: 0.002, SymbolFormat: "slash", Enabled: true},
	}
	return cfg
}

func TestValidateAcceptsDefaultsWithVenues(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			"no venues",
			func(c *Config) { c.Venues = nil },
			"no venues",
		},
		{
			"single enabled venue",
			func(c *Config) {
				v := c.Venues["kraken"]
				v.Enabled = false
				c.Venues["kraken"] = v
			},
			"at least two enabled venues",
		},
		{
			"fee out of range",
			func(c *Config) {
				v := c.Venues["binance"]
				v.TakerFee = 0.5
				c.Venues["binance"] = v
			},
			"taker fee",
		},
		{
			"unknown symbol format",
			func(c *Config) {
				v := c.Venues["binance"]
				v.SymbolFormat = "colon"
				c.Venues["binance"] = v
			},
			"symbol format",
		},
		{
			"no symbols",
			func(c *Config) { c.Symbols = nil },
			"no symbols",
		},
		{
			"non-canonical symbol",
			func(c *Config) { c.Symbols = []string{"BTCUSDT"} },
			"canonical",
		},
		{
			"missing active profile",
			func(c *Config) { c.Risk.ActiveProfile = "reckless" },
			"not defined",
		},
		{
			"kelly lookback too short",
			func(c *Config) { c.Risk.KellyLookback = 1 },
			"kelly lookback",
		},
		{
			"leverage below one",
			func(c *Config) {
				p := c.Risk.Profiles["moderate"]
				p.MaxLeverage = 0.5
				c.Risk.Profiles["moderate"] = p
			},
			"max leverage",
		},
		{
			"volume safety factor zero",
			func(c *Config) { c.Scanner.VolumeSafetyFactor = 0 },
			"volume safety factor",
		},
		{
			"unsupported mode",
			func(c *Config) { c.Mode = "yolo" },
			"unsupported mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "trade"
symbols = ["BTC/USDT"]

[venues.binance]
taker_fee = 0.001
symbol_format = "concat"
enabled = true

[venues.kraken]
taker_fee = 0.002
symbol_format = "slash"
enabled = true

[scanner]
min_profit_percent = 0.8
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, []string{"BTC/USDT"}, cfg.Symbols)
	assert.Equal(t, 0.8, cfg.Scanner.MinProfitPercent)
	// Untouched sections keep their defaults.
	assert.Equal(t, 2000, cfg.Aggregator.PollIntervalMS)
	assert.Equal(t, "moderate", cfg.Risk.ActiveProfile)

	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[venues.binance]
taker_fee = 0.001
symbol_format = "concat"
enabled = true
`), 0o644))

	t.Setenv("CROSSARB_MODE", "serve")
	t.Setenv("CROSSARB_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CROSSARB_VENUE_BINANCE_API_KEY", "k-from-env")
	t.Setenv("CROSSARB_VENUE_BINANCE_SANDBOX", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "k-from-env", cfg.Venues["binance"].APIKey)
	assert.True(t, cfg.Venues["binance"].Sandbox)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "BINANCE", envKey("binance"))
	assert.Equal(t, "GATE_IO", envKey("gate.io"))
	assert.Equal(t, "OKX2", envKey("okx2"))
}
