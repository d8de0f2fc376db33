package auction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openadx/adexchange/internal/domain"
)

// Bidder is the in-process domain.BidderAgent implementation: a privately
// lockable creative registry plus a pricing strategy and a creative
// selector, gated by the shared budget ledger.
type Bidder struct {
	id       string
	name     string
	ledger   *BudgetLedger
	pricing  PricingStrategy
	selector CreativeSelector
	logger   *slog.Logger

	mu        sync.RWMutex
	creatives []domain.Creative
}

// NewBidder creates a Bidder. A nil selector defaults to FirstEligible.
func NewBidder(id, name string, ledger *BudgetLedger, pricing PricingStrategy, selector CreativeSelector, logger *slog.Logger) *Bidder {
	if selector == nil {
		selector = FirstEligible{}
	}
	return &Bidder{
		id:       id,
		name:     name,
		ledger:   ledger,
		pricing:  pricing,
		selector: selector,
		logger:   logger.With(slog.String("component", "bidder"), slog.String("bidder_id", id)),
	}
}

// ID implements domain.BidderAgent.
func (b *Bidder) ID() string { return b.id }

// Name returns the bidder's display name.
func (b *Bidder) Name() string { return b.name }

// RegisterCreative appends a creative to the bidder's registry. Effective
// for subsequent opportunities only.
func (b *Bidder) RegisterCreative(c domain.Creative) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creatives = append(b.creatives, c)
}

// Creatives returns a copy of the registry in registration order.
func (b *Bidder) Creatives() []domain.Creative {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Creative, len(b.creatives))
	copy(out, b.creatives)
	return out
}

// Profile returns a snapshot of the bidder's budget state and creatives.
func (b *Bidder) Profile() domain.BidderProfile {
	cap, spend, _ := b.ledger.Snapshot(b.id)
	return domain.BidderProfile{
		ID:        b.id,
		Name:      b.name,
		BudgetCap: cap,
		Spend:     spend,
		Creatives: b.Creatives(),
	}
}

// Decide implements domain.BidderAgent. It prices first and reserves the
// exact bid amount afterwards, so a sub-floor price never touches the
// budget. The reservation of a losing or discarded offer is released by the
// coordinator once the auction clears.
func (b *Bidder) Decide(ctx context.Context, opp domain.Opportunity, userSegments []string) (domain.Offer, bool, error) {
	if remaining, ok := b.ledger.Remaining(b.id); !ok || remaining <= 0 {
		b.logger.Debug("declining: budget exhausted",
			slog.String("opportunity_id", opp.ID),
			slog.Float64("remaining", remaining),
		)
		return domain.Offer{}, false, nil
	}

	eligible := b.eligibleCreatives(opp, userSegments)
	if len(eligible) == 0 {
		return domain.Offer{}, false, nil
	}

	creative, ok := b.selector.Select(eligible)
	if !ok {
		return domain.Offer{}, false, nil
	}

	price := b.pricing.Price(opp, creative)
	if price <= opp.FloorPrice {
		return domain.Offer{}, false, nil
	}

	// The deadline may have passed while pricing; never reserve for an
	// offer the coordinator will not receive.
	if err := ctx.Err(); err != nil {
		return domain.Offer{}, false, nil
	}

	if !b.ledger.Reserve(b.id, price) {
		b.logger.Debug("declining: reservation rejected",
			slog.String("opportunity_id", opp.ID),
			slog.Float64("price", price),
		)
		return domain.Offer{}, false, nil
	}

	return domain.Offer{
		BidderID:      b.id,
		OpportunityID: opp.ID,
		Price:         price,
		Creative:      creative,
	}, true, nil
}

func (b *Bidder) eligibleCreatives(opp domain.Opportunity, userSegments []string) []domain.Creative {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var eligible []domain.Creative
	for _, c := range b.creatives {
		if IsEligible(c, opp, userSegments) {
			eligible = append(eligible, c)
		}
	}
	return eligible
}
