package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openadx/adexchange/internal/auction"
	"github.com/openadx/adexchange/internal/catalog"
	"github.com/openadx/adexchange/internal/domain"
)

// EventChannel is the bus channel auction events are published on.
const EventChannel = "auctions"

// AuctionEvent is the JSON shape published to the event bus after every bid
// request.
type AuctionEvent struct {
	Event         string  `json:"event"` // "auction_cleared" or "no_fill"
	OpportunityID string  `json:"opportunity_id"`
	PlacementID   string  `json:"placement_id"`
	CoordinatorID string  `json:"coordinator_id,omitempty"`
	BidderID      string  `json:"bidder_id,omitempty"`
	CreativeID    string  `json:"creative_id,omitempty"`
	ClearingPrice float64 `json:"clearing_price,omitempty"`
	Offers        int     `json:"offers,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// ExchangeConfig holds the tunables of the exchange service.
type ExchangeConfig struct {
	// BidDeadline bounds each opportunity's auction.
	BidDeadline time.Duration
	// DefaultPricing names the pricing strategy assigned to bidders that do
	// not request one explicitly.
	DefaultPricing string
}

// ExchangeService is the supply-side surface of the exchange. It resolves
// placements and user segments, builds opportunities, routes them through
// the auction core, records audits, and publishes events. It also owns the
// registration surface for bidders, creatives, and coordinators.
type ExchangeService struct {
	cfg      ExchangeConfig
	catalog  *catalog.Catalog
	resolver domain.SegmentResolver
	router   *auction.Router
	ledger   *auction.BudgetLedger
	pricing  *auction.PricingRegistry
	audit    *AuditService
	bus      domain.EventBus    // may be nil
	store    domain.BidderStore // may be nil
	logger   *slog.Logger
	newID    func() string // opportunity id source, uuid outside tests

	mu      sync.RWMutex
	bidders map[string]*auction.Bidder
}

// NewExchangeService creates an ExchangeService. Bus and store are optional.
func NewExchangeService(
	cfg ExchangeConfig,
	cat *catalog.Catalog,
	resolver domain.SegmentResolver,
	router *auction.Router,
	ledger *auction.BudgetLedger,
	pricing *auction.PricingRegistry,
	audit *AuditService,
	bus domain.EventBus,
	store domain.BidderStore,
	logger *slog.Logger,
) *ExchangeService {
	return &ExchangeService{
		cfg:      cfg,
		catalog:  cat,
		resolver: resolver,
		router:   router,
		ledger:   ledger,
		pricing:  pricing,
		audit:    audit,
		bus:      bus,
		store:    store,
		logger:   logger.With(slog.String("component", "exchange_service")),
		newID:    uuid.NewString,
		bidders:  make(map[string]*auction.Bidder),
	}
}

// RequestBid mediates one impression opportunity. It returns the winning
// offer priced at the cleared amount, ok=false for a no-fill, and an error
// only for an unknown placement, a duplicate opportunity id, or a cancelled
// context.
func (s *ExchangeService) RequestBid(ctx context.Context, imp domain.ImpressionContext) (domain.Offer, bool, error) {
	placement, err := s.catalog.Placement(imp.PlacementID)
	if err != nil {
		return domain.Offer{}, false, err
	}

	opp := domain.Opportunity{
		ID:         s.newID(),
		Impression: imp,
		Placement:  placement,
		FloorPrice: s.catalog.EffectiveFloor(placement, imp),
		Deadline:   time.Now().Add(s.cfg.BidDeadline),
	}

	// A failed segment lookup means no targeting data, not a failed bid
	// request: bidders just see an empty segment set.
	segments, err := s.resolver.SegmentsFor(ctx, imp.UserID)
	if err != nil {
		s.logger.Warn("segment resolution failed",
			slog.String("user_id", imp.UserID),
			slog.String("error", err.Error()),
		)
		segments = nil
	}

	rec, ok, err := s.router.RequestBid(ctx, opp, segments)
	if err != nil {
		return domain.Offer{}, false, err
	}
	if !ok {
		s.publish(AuctionEvent{
			Event:         "no_fill",
			OpportunityID: opp.ID,
			PlacementID:   placement.ID,
			Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		})
		return domain.Offer{}, false, nil
	}

	if err := s.audit.Record(ctx, rec); err != nil {
		// An unrecorded auction never serves; the winner's charge goes back.
		s.ledger.Release(rec.Winner.BidderID, rec.ClearingPrice)
		return domain.Offer{}, false, err
	}
	s.publish(AuctionEvent{
		Event:         "auction_cleared",
		OpportunityID: rec.OpportunityID,
		PlacementID:   placement.ID,
		CoordinatorID: rec.CoordinatorID,
		BidderID:      rec.Winner.BidderID,
		CreativeID:    rec.Winner.Creative.ID,
		ClearingPrice: rec.ClearingPrice,
		Offers:        len(rec.Offers),
		Timestamp:     rec.Timestamp.Format(time.RFC3339Nano),
	})
	s.snapshotBidder(rec.Winner.BidderID)

	// The caller pays the cleared price; the audit record keeps the
	// submitted price.
	won := rec.Winner
	won.Price = rec.ClearingPrice
	return won, true, nil
}

// AuditRecord returns the audit record for an opportunity id.
func (s *ExchangeService) AuditRecord(ctx context.Context, opportunityID string) (domain.ClearedAuction, error) {
	return s.audit.Get(ctx, opportunityID)
}

// RecentAuditRecords returns up to n audit records, newest first.
func (s *ExchangeService) RecentAuditRecords(n int) []domain.ClearedAuction {
	return s.audit.Recent(n)
}

// RegisterBidder creates a bidder with a budget cap and an optional initial
// creative set. pricingName selects a registered pricing strategy; empty
// means the configured default.
func (s *ExchangeService) RegisterBidder(ctx context.Context, id, name string, budgetCap float64, pricingName string, creatives []domain.Creative) error {
	if id == "" {
		return fmt.Errorf("exchange: bidder id is required")
	}
	if budgetCap < 0 {
		return fmt.Errorf("exchange: bidder %s: negative budget cap", id)
	}
	if pricingName == "" {
		pricingName = s.cfg.DefaultPricing
	}
	strategy, err := s.pricing.Get(pricingName)
	if err != nil {
		return fmt.Errorf("exchange: bidder %s: %w", id, err)
	}

	if err := s.ledger.Register(id, budgetCap); err != nil {
		return fmt.Errorf("exchange: bidder %s: %w", id, err)
	}

	b := auction.NewBidder(id, name, s.ledger, strategy, nil, s.logger)
	for _, c := range creatives {
		b.RegisterCreative(c)
	}

	s.mu.Lock()
	s.bidders[id] = b
	s.mu.Unlock()

	// A new bidder competes in every auction by default; RegisterBidderAgent
	// covers coordinators created later.
	for _, c := range s.router.Coordinators() {
		if err := c.RegisterAgent(b); err != nil {
			return fmt.Errorf("exchange: bidder %s: coordinator %s: %w", id, c.ID(), err)
		}
	}

	s.upsertProfile(ctx, b.Profile())
	return nil
}

// RegisterCreative adds a creative to a bidder's registry, effective for
// subsequent opportunities only.
func (s *ExchangeService) RegisterCreative(ctx context.Context, bidderID string, c domain.Creative) error {
	b, err := s.bidder(bidderID)
	if err != nil {
		return err
	}
	b.RegisterCreative(c)
	s.upsertProfile(ctx, b.Profile())
	return nil
}

// RegisterCoordinator creates a coordinator with the given clearing rule and
// registers it with the router.
func (s *ExchangeService) RegisterCoordinator(id string, auctionType domain.AuctionType) error {
	c, err := auction.NewCoordinator(id, auctionType, s.ledger, s.logger)
	if err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	if err := s.router.RegisterCoordinator(c); err != nil {
		return fmt.Errorf("exchange: coordinator %s: %w", id, err)
	}
	return nil
}

// RegisterBidderAgent attaches a registered bidder to a coordinator.
func (s *ExchangeService) RegisterBidderAgent(coordinatorID, bidderID string) error {
	b, err := s.bidder(bidderID)
	if err != nil {
		return err
	}
	c, err := s.router.Coordinator(coordinatorID)
	if err != nil {
		return fmt.Errorf("exchange: coordinator %s: %w", coordinatorID, err)
	}
	if err := c.RegisterAgent(b); err != nil {
		return fmt.Errorf("exchange: coordinator %s: bidder %s: %w", coordinatorID, bidderID, err)
	}
	return nil
}

// BidderProfile returns the bidder's current budget and creative snapshot.
func (s *ExchangeService) BidderProfile(id string) (domain.BidderProfile, error) {
	b, err := s.bidder(id)
	if err != nil {
		return domain.BidderProfile{}, err
	}
	return b.Profile(), nil
}

// BidderProfiles returns snapshots for all registered bidders.
func (s *ExchangeService) BidderProfiles() []domain.BidderProfile {
	s.mu.RLock()
	ids := make([]string, 0, len(s.bidders))
	for id := range s.bidders {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]domain.BidderProfile, 0, len(ids))
	for _, id := range ids {
		if p, err := s.BidderProfile(id); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func (s *ExchangeService) bidder(id string) (*auction.Bidder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bidders[id]
	if !ok {
		return nil, fmt.Errorf("exchange: bidder %s: %w", id, domain.ErrUnknownBidder)
	}
	return b, nil
}

func (s *ExchangeService) publish(ev AuctionEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := s.bus.Publish(ctx, EventChannel, payload); err != nil {
			s.logger.Warn("event publish failed",
				slog.String("event", ev.Event),
				slog.String("opportunity_id", ev.OpportunityID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// snapshotBidder writes the bidder's post-auction budget state behind the
// request path.
func (s *ExchangeService) snapshotBidder(id string) {
	if s.store == nil {
		return
	}
	b, err := s.bidder(id)
	if err != nil {
		return
	}
	profile := b.Profile()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := s.store.UpsertProfile(ctx, profile); err != nil {
			s.logger.Warn("bidder profile export failed",
				slog.String("bidder_id", id),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (s *ExchangeService) upsertProfile(ctx context.Context, p domain.BidderProfile) {
	if s.store == nil {
		return
	}
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		s.logger.Warn("bidder profile export failed",
			slog.String("bidder_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// CollectActivity forwards a user behavior event to the segment collector
// when the resolver supports collection.
func (s *ExchangeService) CollectActivity(ctx context.Context, userID string, action domain.UserAction) error {
	collector, ok := s.resolver.(domain.ActivityCollector)
	if !ok {
		return fmt.Errorf("exchange: segment resolver does not collect activity")
	}
	return collector.Collect(ctx, userID, action)
}

// RegisterPlacement adds a placement to the catalog.
func (s *ExchangeService) RegisterPlacement(p domain.Placement) error {
	return s.catalog.RegisterPlacement(p)
}

// Placement resolves a placement by id.
func (s *ExchangeService) Placement(id string) (domain.Placement, error) {
	return s.catalog.Placement(id)
}

// Placements lists all registered placements.
func (s *ExchangeService) Placements() []domain.Placement {
	return s.catalog.List()
}
