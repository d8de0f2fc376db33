package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, 150*time.Millisecond, cfg.Exchange.BidDeadline.Duration)
	assert.Equal(t, "floor_multiplier", cfg.Exchange.DefaultPricing)
	require.Len(t, cfg.Exchange.Coordinators, 1)
	assert.Equal(t, "second-price", cfg.Exchange.Coordinators[0].AuctionType)
	assert.False(t, cfg.Postgres.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.S3.Enabled)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "replay" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"zero bid deadline", func(c *Config) { c.Exchange.BidDeadline.Duration = 0 }, "bid_deadline"},
		{"unknown pricing", func(c *Config) { c.Exchange.DefaultPricing = "vickrey" }, "default_pricing"},
		{"floor multiple too low", func(c *Config) { c.Exchange.FloorMultiple = 1.0 }, "floor_multiple"},
		{"no coordinators", func(c *Config) { c.Exchange.Coordinators = nil }, "at least one coordinator"},
		{"duplicate coordinator", func(c *Config) {
			c.Exchange.Coordinators = append(c.Exchange.Coordinators, CoordinatorConfig{ID: "primary", AuctionType: "first-price"})
		}, "duplicate coordinator"},
		{"bad auction type", func(c *Config) {
			c.Exchange.Coordinators[0].AuctionType = "dutch"
		}, "auction_type"},
		{"half segment rule", func(c *Config) {
			c.Segments.Rules = []SegmentRule{{Keyword: "sport"}}
		}, "keyword and segment"},
		{"redis without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "redis: addr"},
		{"s3 without bucket", func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
		{"archive without stores", func(c *Config) { c.Archive.Enabled = true }, "archive: requires"},
		{"bad server port", func(c *Config) { c.Server.Port = 0 }, "server: port"},
		{"rate limit without redis", func(c *Config) {
			c.Server.RateLimit.Enabled = true
		}, "rate_limit requires redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.Server.Port = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "server: port")
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adx.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "sim"
log_level = "debug"

[exchange]
bid_deadline = "80ms"
default_pricing = "seeded_random"
pricing_seed = 42

[[exchange.coordinators]]
id = "open"
auction_type = "second-price"

[[exchange.coordinators]]
id = "premium"
auction_type = "first-price"

[[segments.rules]]
keyword = "cook"
segment = "foodie"

[server]
port = 9090
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sim", cfg.Mode)
	assert.Equal(t, 80*time.Millisecond, cfg.Exchange.BidDeadline.Duration)
	assert.Equal(t, "seeded_random", cfg.Exchange.DefaultPricing)
	assert.Equal(t, int64(42), cfg.Exchange.PricingSeed)
	require.Len(t, cfg.Exchange.Coordinators, 2)
	assert.Equal(t, "premium", cfg.Exchange.Coordinators[1].ID)
	require.Len(t, cfg.Segments.Rules, 1)
	assert.Equal(t, "foodie", cfg.Segments.Rules[0].Segment)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.Segments.CacheTTL.Duration)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ADX_MODE", "sim")
	t.Setenv("ADX_EXCHANGE_BID_DEADLINE", "75ms")
	t.Setenv("ADX_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("ADX_SERVER_PORT", "8081")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Mode)
	assert.Equal(t, 75*time.Millisecond, cfg.Exchange.BidDeadline.Duration)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Server.APIKey = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)

	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Server.APIKey)

	// The startup log serializes the redacted copy; no secret may survive.
	out, err := json.Marshal(red)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
}
