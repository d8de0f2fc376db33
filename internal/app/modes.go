package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openadx/adexchange/internal/domain"
	"github.com/openadx/adexchange/internal/server"
	"github.com/openadx/adexchange/internal/server/handler"
	"github.com/openadx/adexchange/internal/server/ws"
	"github.com/openadx/adexchange/internal/service"
)

// shutdownGrace bounds how long a stopping HTTP server waits for in-flight
// requests.
const shutdownGrace = 10 * time.Second

// ServeMode runs the exchange as a long-lived HTTP + WebSocket API server.
// It blocks until the context is cancelled or a subsystem fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub, bridging bus events to dashboard clients. Requires the
	// Redis event bus.
	var hub *ws.Hub
	if deps.EventBus != nil {
		hub = ws.NewHub(deps.EventBus, service.EventChannel, a.logger)
		g.Go(func() error {
			err := hub.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled; websocket event stream unavailable")
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Bid:        handler.NewBidHandler(deps.Exchange, a.logger),
		Bidders:    handler.NewBidderHandler(deps.Exchange, a.logger),
		Placements: handler.NewPlacementHandler(deps.Exchange, a.logger),
		Activity:   handler.NewActivityHandler(deps.Exchange, deps.Resolver, a.logger),
		Audit:      handler.NewAuditHandler(deps.Exchange, deps.Archiver, a.logger),
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if a.cfg.Server.RateLimit.Enabled && deps.RateLimiter != nil {
		srvCfg.RateLimiter = deps.RateLimiter
		srvCfg.RateLimit = a.cfg.Server.RateLimit.Limit
		srvCfg.RateLimitWindow = a.cfg.Server.RateLimit.Window.Duration
	}

	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps.Archiver)
		})
	}

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// runArchiveLoop periodically exports audit records older than the retention
// window to object storage.
func (a *App) runArchiveLoop(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetainDays) * 24 * time.Hour

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Int("retain_days", a.cfg.Archive.RetainDays),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			n, err := archiver.ArchiveAuditRecords(ctx, cutoff)
			if err != nil {
				// Archival is best-effort; the next tick retries.
				a.logger.ErrorContext(ctx, "audit archive run failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.InfoContext(ctx, "audit archive run complete",
				slog.Int64("records", n),
				slog.Time("cutoff", cutoff),
			)
		}
	}
}

// SimMode runs a deterministic end-to-end simulation of the exchange:
// placements and bidders are seeded, user activity is collected, and a fixed
// batch of bid requests flows through the auction. Useful for demos and for
// eyeballing auction behavior without any external infrastructure.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	ex := deps.Exchange

	placements := []domain.Placement{
		{
			ID:          "homepage-banner",
			PublisherID: "news-site",
			Size:        "728x90",
			Type:        "banner",
			Position:    "top",
			FloorPrice:  1.0,
			Context: domain.PlacementContext{
				Section:     "home",
				ContentType: "news",
				Keywords:    []string{"news", "headlines"},
			},
		},
		{
			ID:          "article-sidebar",
			PublisherID: "news-site",
			Size:        "300x250",
			Type:        "banner",
			Position:    "sidebar",
			FloorPrice:  2.0,
			Context: domain.PlacementContext{
				Section:     "family",
				ContentType: "article",
				Keywords:    []string{"family", "kids"},
				BrandSafety: domain.BrandSafety{
					Sensitive:          true,
					ExcludedCategories: []string{"gambling", "alcohol"},
				},
			},
		},
	}
	for _, p := range placements {
		if err := ex.RegisterPlacement(p); err != nil {
			return fmt.Errorf("sim: placement %s: %w", p.ID, err)
		}
	}

	bidders := []struct {
		id, name  string
		budget    float64
		creatives []domain.Creative
	}{
		{
			id: "dsp-gadget", name: "Gadget Ads", budget: 50,
			creatives: []domain.Creative{{
				ID: "cr-phone", AdvertiserID: "adv-gadget", Type: "banner",
				Size: "728x90", Content: "New phone, old price",
				TargetSegments: []string{"tech-savvy"},
				Categories:     []string{"electronics"},
				BrandName:      "PhoneCo",
			}},
		},
		{
			id: "dsp-sports", name: "Sports Ads", budget: 30,
			creatives: []domain.Creative{{
				ID: "cr-drink", AdvertiserID: "adv-drink", Type: "banner",
				Size: "300x250", Content: "Hydrate harder",
				TargetSegments: []string{"sports-enthusiast"},
				Categories:     []string{"beverages"},
				BrandName:      "IsoFuel",
			}},
		},
		{
			id: "dsp-casino", name: "Casino Ads", budget: 100,
			creatives: []domain.Creative{{
				ID: "cr-casino", AdvertiserID: "adv-casino", Type: "banner",
				Size: "300x250", Content: "Spin to win",
				TargetSegments: []string{"sports-enthusiast"},
				Categories:     []string{"gambling"},
				BrandName:      "LuckySpin",
			}},
		},
	}
	for _, b := range bidders {
		if err := ex.RegisterBidder(ctx, b.id, b.name, b.budget, "seeded_random", b.creatives); err != nil {
			return fmt.Errorf("sim: bidder %s: %w", b.id, err)
		}
	}

	// Browsing history drives segment derivation: the tech reader picks up
	// tech-savvy, the sports reader sports-enthusiast.
	visits := []struct {
		user string
		url  string
	}{
		{"user-tech", "https://underkg.example.com/reviews/phone"},
		{"user-tech", "https://underkg.example.com/news/launch"},
		{"user-sport", "https://example.com/sport/finals"},
		{"user-sport", "https://example.com/sport/transfers"},
	}
	for _, v := range visits {
		action := domain.UserAction{
			Type:      domain.ActionPageVisit,
			URL:       v.url,
			Timestamp: time.Now().UTC(),
		}
		if err := ex.CollectActivity(ctx, v.user, action); err != nil {
			return fmt.Errorf("sim: activity for %s: %w", v.user, err)
		}
	}

	requests := []domain.ImpressionContext{
		{PlacementID: "homepage-banner", UserID: "user-tech", DeviceType: "desktop", Geo: "DE"},
		{PlacementID: "article-sidebar", UserID: "user-sport", DeviceType: "mobile", Geo: "DE"},
		{PlacementID: "homepage-banner", UserID: "user-sport", DeviceType: "mobile", Geo: "DE"},
		{PlacementID: "article-sidebar", UserID: "user-tech", DeviceType: "desktop", Geo: "DE"},
		{PlacementID: "homepage-banner", UserID: "user-unknown", DeviceType: "tablet", Geo: "FR"},
	}

	fills := 0
	for i, imp := range requests {
		imp.Timestamp = time.Now().UTC()
		offer, filled, err := ex.RequestBid(ctx, imp)
		if err != nil {
			return fmt.Errorf("sim: bid request %d: %w", i+1, err)
		}
		if !filled {
			a.logger.InfoContext(ctx, "sim: no fill",
				slog.Int("request", i+1),
				slog.String("placement_id", imp.PlacementID),
				slog.String("user_id", imp.UserID),
			)
			continue
		}
		fills++
		a.logger.InfoContext(ctx, "sim: impression filled",
			slog.Int("request", i+1),
			slog.String("placement_id", imp.PlacementID),
			slog.String("user_id", imp.UserID),
			slog.String("bidder_id", offer.BidderID),
			slog.String("creative_id", offer.Creative.ID),
			slog.Float64("price", offer.Price),
		)
	}

	for _, p := range ex.BidderProfiles() {
		a.logger.InfoContext(ctx, "sim: bidder summary",
			slog.String("bidder_id", p.ID),
			slog.Float64("budget_cap", p.BudgetCap),
			slog.Float64("spend", p.Spend),
			slog.Float64("remaining", p.Remaining()),
		)
	}
	a.logger.InfoContext(ctx, "sim complete",
		slog.Int("requests", len(requests)),
		slog.Int("fills", fills),
	)

	return nil
}
