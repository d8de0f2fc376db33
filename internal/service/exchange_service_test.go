package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadx/adexchange/internal/auction"
	"github.com/openadx/adexchange/internal/catalog"
	"github.com/openadx/adexchange/internal/domain"
	"github.com/openadx/adexchange/internal/segments"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExchange(t *testing.T) *ExchangeService {
	t.Helper()
	logger := testLogger()

	pricing := auction.NewPricingRegistry()
	pricing.Register("floor_multiplier", auction.FloorMultiplier{Multiplier: 2})
	pricing.Register("aggressive", auction.FloorMultiplier{Multiplier: 3})

	ex := NewExchangeService(
		ExchangeConfig{BidDeadline: 200 * time.Millisecond, DefaultPricing: "floor_multiplier"},
		catalog.New(nil),
		segments.NewResolver(segments.DefaultRules(), nil, logger),
		auction.NewRouter(logger),
		auction.NewBudgetLedger(),
		pricing,
		NewAuditService(nil, logger),
		nil,
		nil,
		logger,
	)
	require.NoError(t, ex.RegisterCoordinator("primary", domain.AuctionTypeSecondPrice))
	return ex
}

func bannerCreative(id string) domain.Creative {
	return domain.Creative{
		ID:             id,
		Type:           "banner",
		Size:           "300x250",
		TargetSegments: []string{"tech-savvy"},
		Categories:     []string{"electronics"},
		Content:        "Buy the new phone",
		BrandName:      "PhoneCo",
	}
}

func registerSidebar(t *testing.T, ex *ExchangeService) {
	t.Helper()
	require.NoError(t, ex.RegisterPlacement(domain.Placement{
		ID:          "sidebar",
		PublisherID: "pub-1",
		Size:        "300x250",
		Type:        "banner",
		Position:    "sidebar",
		FloorPrice:  2.0,
	}))
}

func collectTechActivity(t *testing.T, ex *ExchangeService, userID string) {
	t.Helper()
	require.NoError(t, ex.CollectActivity(context.Background(), userID, domain.UserAction{
		Type: domain.ActionPageVisit,
		URL:  "https://www.underkg.de/news/phone",
	}))
}

func TestRequestBidFillsAndAudits(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(t)
	registerSidebar(t, ex)

	// Floor 2.0: the aggressive bidder prices 6.0, the default one 4.0, so
	// the second-price clearing amount is 4.0.
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-a", "DSP A", 100, "aggressive", []domain.Creative{bannerCreative("cr-a")}))
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-b", "DSP B", 100, "", []domain.Creative{bannerCreative("cr-b")}))
	collectTechActivity(t, ex, "user-1")

	offer, ok, err := ex.RequestBid(ctx, domain.ImpressionContext{
		PlacementID: "sidebar",
		UserID:      "user-1",
		DeviceType:  "desktop",
	})
	require.NoError(t, err)
	require.True(t, ok)

	// The returned offer carries the cleared price, not the submitted one.
	assert.Equal(t, "dsp-a", offer.BidderID)
	assert.Equal(t, "cr-a", offer.Creative.ID)
	assert.Equal(t, 4.0, offer.Price)

	// The audit record keeps the winner's submitted price alongside the
	// clearing amount.
	rec, err := ex.AuditRecord(ctx, offer.OpportunityID)
	require.NoError(t, err)
	assert.Equal(t, "primary", rec.CoordinatorID)
	assert.Equal(t, 6.0, rec.Winner.Price)
	assert.Equal(t, 4.0, rec.ClearingPrice)
	assert.Len(t, rec.Offers, 2)

	recent := ex.RecentAuditRecords(10)
	require.Len(t, recent, 1)
	assert.Equal(t, offer.OpportunityID, recent[0].OpportunityID)

	// Only the winner is charged, exactly the cleared amount.
	pa, err := ex.BidderProfile("dsp-a")
	require.NoError(t, err)
	assert.Equal(t, 4.0, pa.Spend)
	pb, err := ex.BidderProfile("dsp-b")
	require.NoError(t, err)
	assert.Equal(t, 0.0, pb.Spend)
}

func TestRequestBidUnknownPlacement(t *testing.T) {
	ex := newTestExchange(t)

	_, _, err := ex.RequestBid(context.Background(), domain.ImpressionContext{
		PlacementID: "missing",
		UserID:      "user-1",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownPlacement)
}

func TestRequestBidNoFillWithoutSegments(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(t)
	registerSidebar(t, ex)
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-a", "DSP A", 100, "", []domain.Creative{bannerCreative("cr-a")}))

	// No collected activity means an empty segment set, and a targeted
	// creative never matches it.
	_, ok, err := ex.RequestBid(ctx, domain.ImpressionContext{
		PlacementID: "sidebar",
		UserID:      "stranger",
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, ex.RecentAuditRecords(10))
}

func TestRequestBidAuditRejectionReleasesWinner(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(t)
	registerSidebar(t, ex)
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-a", "DSP A", 100, "", []domain.Creative{bannerCreative("cr-a")}))
	collectTechActivity(t, ex, "user-1")

	// Force an id collision with a pre-existing exchange-level record.
	ex.newID = func() string { return "opp-fixed" }
	require.NoError(t, ex.audit.Record(ctx, domain.ClearedAuction{OpportunityID: "opp-fixed"}))

	_, _, err := ex.RequestBid(ctx, domain.ImpressionContext{PlacementID: "sidebar", UserID: "user-1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateOpportunity)

	// The rejected auction never serves, so the winner keeps its budget.
	p, err := ex.BidderProfile("dsp-a")
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Spend)
}

func TestRequestBidStopsAtBudgetCap(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(t)
	registerSidebar(t, ex)

	// Each solo win costs the submitted 4.0; a cap of 10 affords two.
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-a", "DSP A", 10, "", []domain.Creative{bannerCreative("cr-a")}))
	collectTechActivity(t, ex, "user-1")

	imp := domain.ImpressionContext{PlacementID: "sidebar", UserID: "user-1"}
	for i := 0; i < 2; i++ {
		_, ok, err := ex.RequestBid(ctx, imp)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, ok, err := ex.RequestBid(ctx, imp)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := ex.BidderProfile("dsp-a")
	require.NoError(t, err)
	assert.Equal(t, 8.0, p.Spend)
	assert.Equal(t, 2.0, p.Remaining())
}

func TestRegisterBidderValidation(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(t)

	require.NoError(t, ex.RegisterBidder(ctx, "dsp-a", "DSP A", 100, "", nil))

	err := ex.RegisterBidder(ctx, "dsp-a", "DSP A again", 50, "", nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	assert.Error(t, ex.RegisterBidder(ctx, "", "Anonymous", 100, "", nil))
	assert.Error(t, ex.RegisterBidder(ctx, "dsp-b", "DSP B", -1, "", nil))
	assert.Error(t, ex.RegisterBidder(ctx, "dsp-c", "DSP C", 100, "dutch_clock", nil))
}

func TestRegisterCreative(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(t)
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-a", "DSP A", 100, "", nil))

	require.NoError(t, ex.RegisterCreative(ctx, "dsp-a", bannerCreative("cr-a")))
	p, err := ex.BidderProfile("dsp-a")
	require.NoError(t, err)
	require.Len(t, p.Creatives, 1)
	assert.Equal(t, "cr-a", p.Creatives[0].ID)

	err = ex.RegisterCreative(ctx, "ghost", bannerCreative("cr-x"))
	assert.ErrorIs(t, err, domain.ErrUnknownBidder)
}

func TestRegisterCoordinatorValidation(t *testing.T) {
	ex := newTestExchange(t)

	err := ex.RegisterCoordinator("primary", domain.AuctionTypeFirstPrice)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	assert.Error(t, ex.RegisterCoordinator("alt", "dutch"))
}

func TestBidderJoinsCoordinatorsCreatedLater(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(t)
	registerSidebar(t, ex)
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-a", "DSP A", 100, "", []domain.Creative{bannerCreative("cr-a")}))
	collectTechActivity(t, ex, "user-1")

	// A coordinator created after the bidder needs an explicit attach.
	require.NoError(t, ex.RegisterCoordinator("late", domain.AuctionTypeFirstPrice))
	require.NoError(t, ex.RegisterBidderAgent("late", "dsp-a"))

	offer, ok, err := ex.RequestBid(ctx, domain.ImpressionContext{PlacementID: "sidebar", UserID: "user-1"})
	require.NoError(t, err)
	require.True(t, ok)

	// First-price clears at the full 4.0 bid; second-price also pays the
	// solo bid here, so the routed record is whichever cleared first in
	// registration order.
	rec, err := ex.AuditRecord(ctx, offer.OpportunityID)
	require.NoError(t, err)
	assert.Equal(t, "primary", rec.CoordinatorID)

	p, err := ex.BidderProfile("dsp-a")
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.Spend)
}

func TestBidderProfiles(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(t)
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-a", "DSP A", 100, "", nil))
	require.NoError(t, ex.RegisterBidder(ctx, "dsp-b", "DSP B", 50, "", nil))

	profiles := ex.BidderProfiles()
	assert.Len(t, profiles, 2)
}
