// Package config defines the top-level configuration for the ad exchange
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ADX_* environment variables.
type Config struct {
	Exchange Exchange       `toml:"exchange"`
	Segments SegmentsConfig `toml:"segments"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Exchange holds auction engine parameters.
type Exchange struct {
	// BidDeadline bounds how long a single auction waits for bidder
	// responses before discarding stragglers.
	BidDeadline duration `toml:"bid_deadline"`
	// DefaultPricing names the pricing strategy assigned to bidders that
	// do not request one ("floor_multiplier" or "seeded_random").
	DefaultPricing string  `toml:"default_pricing"`
	PricingSeed    int64   `toml:"pricing_seed"`
	FloorMultiple  float64 `toml:"floor_multiple"`
	// Coordinators declares the auction coordinators created at startup.
	Coordinators []CoordinatorConfig `toml:"coordinators"`
}

// CoordinatorConfig declares one auction coordinator.
type CoordinatorConfig struct {
	ID          string `toml:"id"`
	AuctionType string `toml:"auction_type"`
}

// SegmentsConfig holds audience segmentation parameters.
type SegmentsConfig struct {
	// Rules maps page-keyword substrings to audience segments. When empty
	// the built-in rule set is used.
	Rules    []SegmentRule `toml:"rules"`
	CacheTTL duration      `toml:"cache_ttl"`
}

// SegmentRule maps a keyword substring to an audience segment.
type SegmentRule struct {
	Keyword string `toml:"keyword"`
	Segment string `toml:"segment"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
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

// ArchiveConfig holds audit-record archival parameters.
type ArchiveConfig struct {
	Enabled    bool     `toml:"enabled"`
	Interval   duration `toml:"interval"`
	RetainDays int      `toml:"retain_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int       `toml:"port"`
	CORSOrigins []string  `toml:"cors_origins"`
	APIKey      string    `toml:"api_key"`
	RateLimit   RateLimit `toml:"rate_limit"`
}

// RateLimit holds per-client request limiting parameters for the bid endpoint.
type RateLimit struct {
	Enabled bool     `toml:"enabled"`
	Limit   int      `toml:"limit"`
	Window  duration `toml:"window"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "500ms", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "500ms" or "5m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sane development defaults. Load
// layers the TOML file and environment overrides on top of this.
func Defaults() Config {
	return Config{
		Exchange: Exchange{
			BidDeadline:    duration{150 * time.Millisecond},
			DefaultPricing: "floor_multiplier",
			PricingSeed:    1,
			FloorMultiple:  1.5,
			Coordinators: []CoordinatorConfig{
				{ID: "primary", AuctionType: "second-price"},
			},
		},
		Segments: SegmentsConfig{
			CacheTTL: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "adexchange",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "adexchange-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:    false,
			Interval:   duration{24 * time.Hour},
			RetainDays: 90,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit: RateLimit{
				Enabled: false,
				Limit:   100,
				Window:  duration{time.Second},
			},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"sim":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validAuctionTypes enumerates the accepted coordinator auction types.
var validAuctionTypes = map[string]bool{
	"first-price":  true,
	"second-price": true,
}

// validPricing enumerates the built-in pricing strategy names.
var validPricing = map[string]bool{
	"floor_multiplier": true,
	"seeded_random":    true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, sim)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.BidDeadline.Duration <= 0 {
		errs = append(errs, "exchange: bid_deadline must be positive")
	}
	if !validPricing[c.Exchange.DefaultPricing] {
		errs = append(errs, fmt.Sprintf("exchange: unknown default_pricing %q (valid: floor_multiplier, seeded_random)", c.Exchange.DefaultPricing))
	}
	if c.Exchange.FloorMultiple <= 1.0 {
		errs = append(errs, fmt.Sprintf("exchange: floor_multiple must be > 1.0, got %g", c.Exchange.FloorMultiple))
	}
	if len(c.Exchange.Coordinators) == 0 {
		errs = append(errs, "exchange: at least one coordinator must be configured")
	}
	seen := map[string]bool{}
	for i, co := range c.Exchange.Coordinators {
		if co.ID == "" {
			errs = append(errs, fmt.Sprintf("exchange: coordinators[%d]: id must not be empty", i))
		}
		if seen[co.ID] {
			errs = append(errs, fmt.Sprintf("exchange: duplicate coordinator id %q", co.ID))
		}
		seen[co.ID] = true
		if !validAuctionTypes[co.AuctionType] {
			errs = append(errs, fmt.Sprintf("exchange: coordinators[%d]: auction_type must be first-price or second-price, got %q", i, co.AuctionType))
		}
	}

	// Segments
	for i, r := range c.Segments.Rules {
		if r.Keyword == "" || r.Segment == "" {
			errs = append(errs, fmt.Sprintf("segments: rules[%d]: keyword and segment must both be set", i))
		}
	}
	if c.Segments.CacheTTL.Duration <= 0 {
		errs = append(errs, "segments: cache_ttl must be positive")
	}

	// Postgres
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Archive needs both a postgres source and an s3 sink.
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires postgres and s3 to be enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetainDays < 1 {
			errs = append(errs, "archive: retain_days must be >= 1")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit.Enabled {
		if !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis to be enabled")
		}
		if c.Server.RateLimit.Limit < 1 {
			errs = append(errs, "server: rate_limit.limit must be >= 1")
		}
		if c.Server.RateLimit.Window.Duration <= 0 {
			errs = append(errs, "server: rate_limit.window must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
