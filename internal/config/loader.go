package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ADX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ADX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setDuration(&cfg.Exchange.BidDeadline, "ADX_EXCHANGE_BID_DEADLINE")
	setStr(&cfg.Exchange.DefaultPricing, "ADX_EXCHANGE_DEFAULT_PRICING")
	setInt64(&cfg.Exchange.PricingSeed, "ADX_EXCHANGE_PRICING_SEED")
	setFloat64(&cfg.Exchange.FloorMultiple, "ADX_EXCHANGE_FLOOR_MULTIPLE")

	// ── Segments ──
	setDuration(&cfg.Segments.CacheTTL, "ADX_SEGMENTS_CACHE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ADX_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ADX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ADX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ADX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ADX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ADX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ADX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ADX_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ADX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ADX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ADX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ADX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ADX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ADX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ADX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ADX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ADX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ADX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ADX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ADX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ADX_S3_REGION")
	setStr(&cfg.S3.Bucket, "ADX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ADX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ADX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ADX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ADX_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ADX_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ADX_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetainDays, "ADX_ARCHIVE_RETAIN_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "ADX_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ADX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ADX_SERVER_API_KEY")
	setBool(&cfg.Server.RateLimit.Enabled, "ADX_SERVER_RATE_LIMIT_ENABLED")
	setInt(&cfg.Server.RateLimit.Limit, "ADX_SERVER_RATE_LIMIT_LIMIT")
	setDuration(&cfg.Server.RateLimit.Window, "ADX_SERVER_RATE_LIMIT_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "ADX_MODE")
	setStr(&cfg.LogLevel, "ADX_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
