package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openadx/adexchange/internal/auction"
	s3blob "github.com/openadx/adexchange/internal/blob/s3"
	"github.com/openadx/adexchange/internal/cache/redis"
	"github.com/openadx/adexchange/internal/catalog"
	"github.com/openadx/adexchange/internal/config"
	"github.com/openadx/adexchange/internal/domain"
	"github.com/openadx/adexchange/internal/segments"
	"github.com/openadx/adexchange/internal/service"
	"github.com/openadx/adexchange/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Auction core and services.
	Exchange *service.ExchangeService
	Resolver *segments.Resolver
	Catalog  *catalog.Catalog
	Router   *auction.Router
	Ledger   *auction.BudgetLedger

	// Optional infrastructure; nil when the backing store is disabled.
	EventBus    domain.EventBus
	RateLimiter domain.RateLimiter
	AuditStore  domain.AuditStore
	BidderStore domain.BidderStore
	Archiver    domain.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (durable audit export and bidder snapshots) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		auditStore := postgres.NewAuditStore(pool)
		deps.AuditStore = auditStore
		deps.BidderStore = postgres.NewBidderStore(pool)

		// --- S3 blob storage (audit archival) ---
		if cfg.S3.Enabled {
			s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}

			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), auditStore)
		}
	}

	// --- Redis (segment cache, event bus, rate limiter) ---
	var segCache domain.SegmentCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		segCache = redis.NewSegmentCache(redisClient, cfg.Segments.CacheTTL.Duration)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Auction core ---
	deps.Ledger = auction.NewBudgetLedger()

	pricing := auction.NewPricingRegistry()
	pricing.Register("floor_multiplier", auction.FloorMultiplier{Multiplier: cfg.Exchange.FloorMultiple})
	pricing.Register("seeded_random", auction.NewSeededRandom(cfg.Exchange.PricingSeed))

	deps.Router = auction.NewRouter(logger)
	deps.Catalog = catalog.New(nil)

	rules := segments.DefaultRules()
	if len(cfg.Segments.Rules) > 0 {
		rules = rules[:0]
		for _, r := range cfg.Segments.Rules {
			rules = append(rules, segments.Rule{Keyword: r.Keyword, Segment: r.Segment})
		}
	}
	deps.Resolver = segments.NewResolver(rules, segCache, logger)

	auditSvc := service.NewAuditService(deps.AuditStore, logger)

	deps.Exchange = service.NewExchangeService(
		service.ExchangeConfig{
			BidDeadline:    cfg.Exchange.BidDeadline.Duration,
			DefaultPricing: cfg.Exchange.DefaultPricing,
		},
		deps.Catalog,
		deps.Resolver,
		deps.Router,
		deps.Ledger,
		pricing,
		auditSvc,
		deps.EventBus,
		deps.BidderStore,
		logger,
	)

	for _, co := range cfg.Exchange.Coordinators {
		if err := deps.Exchange.RegisterCoordinator(co.ID, domain.AuctionType(co.AuctionType)); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: coordinator %s: %w", co.ID, err)
		}
	}

	return deps, cleanup, nil
}
