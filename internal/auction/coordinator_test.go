package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadx/adexchange/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedAgent is a domain.BidderAgent with fully scripted behavior, used
// to drive the coordinator through its edge cases.
type scriptedAgent struct {
	id       string
	price    float64
	bid      bool
	delay    time.Duration
	err      error
	panics   bool
	ledger   *BudgetLedger // when set, reserves price before offering
	creative domain.Creative
}

func (a *scriptedAgent) ID() string { return a.id }

func (a *scriptedAgent) Decide(ctx context.Context, opp domain.Opportunity, _ []string) (domain.Offer, bool, error) {
	if a.panics {
		panic("scripted panic")
	}
	if a.delay > 0 {
		// Deliberately ignores the deadline, like a misbehaving bidder.
		time.Sleep(a.delay)
	}
	if a.err != nil {
		return domain.Offer{}, false, a.err
	}
	if !a.bid {
		return domain.Offer{}, false, nil
	}
	if a.ledger != nil && !a.ledger.Reserve(a.id, a.price) {
		return domain.Offer{}, false, nil
	}
	return domain.Offer{
		BidderID:      a.id,
		OpportunityID: opp.ID,
		Price:         a.price,
		Creative:      a.creative,
	}, true, nil
}

func testOpportunity(id string, floor float64, deadline time.Duration) domain.Opportunity {
	return domain.Opportunity{
		ID:         id,
		FloorPrice: floor,
		Deadline:   time.Now().Add(deadline),
		Placement: domain.Placement{
			ID:   "slot-1",
			Size: "300x250",
			Type: "banner",
			Context: domain.PlacementContext{
				BrandSafety: domain.BrandSafety{
					ExcludedCategories: []string{"gambling"},
				},
			},
		},
	}
}

func newTestCoordinator(t *testing.T, typ domain.AuctionType, ledger *BudgetLedger, agents ...*scriptedAgent) *Coordinator {
	t.Helper()
	c, err := NewCoordinator("test", typ, ledger, testLogger())
	require.NoError(t, err)
	for _, a := range agents {
		require.NoError(t, c.RegisterAgent(a))
	}
	return c
}

func TestNewCoordinatorUnknownType(t *testing.T) {
	_, err := NewCoordinator("test", "dutch", NewBudgetLedger(), testLogger())
	assert.Error(t, err)
}

func TestCoordinatorRegisterAgentDuplicate(t *testing.T) {
	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, NewBudgetLedger())
	require.NoError(t, c.RegisterAgent(&scriptedAgent{id: "a"}))
	assert.ErrorIs(t, c.RegisterAgent(&scriptedAgent{id: "a"}), domain.ErrAlreadyExists)
	assert.Equal(t, []string{"a"}, c.Agents())
}

func TestCoordinatorSecondPriceClears(t *testing.T) {
	ledger := NewBudgetLedger()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, ledger.Register(id, 100))
	}
	c := newTestCoordinator(t, domain.AuctionTypeSecondPrice, ledger,
		&scriptedAgent{id: "a", bid: true, price: 10, ledger: ledger},
		&scriptedAgent{id: "b", bid: true, price: 7, ledger: ledger},
		&scriptedAgent{id: "c", bid: true, price: 5, ledger: ledger},
	)

	rec, ok, err := c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 200*time.Millisecond), nil)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "a", rec.Winner.BidderID)
	assert.Equal(t, 10.0, rec.Winner.Price)
	assert.Equal(t, 7.0, rec.ClearingPrice)
	assert.Len(t, rec.Offers, 3)

	// The winner is charged the clearing price; losers are refunded in full.
	_, spendA, _ := ledger.Snapshot("a")
	_, spendB, _ := ledger.Snapshot("b")
	_, spendC, _ := ledger.Snapshot("c")
	assert.Equal(t, 7.0, spendA)
	assert.Equal(t, 0.0, spendB)
	assert.Equal(t, 0.0, spendC)

	// The audit record is retrievable from the coordinator.
	got, found := c.Record("opp-1")
	require.True(t, found)
	assert.Equal(t, rec, got)
}

func TestCoordinatorDropsBelowFloorOffer(t *testing.T) {
	ledger := NewBudgetLedger()
	require.NoError(t, ledger.Register("low", 100))
	require.NoError(t, ledger.Register("ok", 100))

	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, ledger,
		&scriptedAgent{id: "low", bid: true, price: 0.5, ledger: ledger},
		&scriptedAgent{id: "ok", bid: true, price: 3, ledger: ledger},
	)

	rec, ok, err := c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 200*time.Millisecond), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ok", rec.Winner.BidderID)
	assert.Len(t, rec.Offers, 1)

	// The malformed offer's reservation was released.
	_, spendLow, _ := ledger.Snapshot("low")
	assert.Equal(t, 0.0, spendLow)
}

func TestCoordinatorDropsBrandUnsafeOffer(t *testing.T) {
	ledger := NewBudgetLedger()
	require.NoError(t, ledger.Register("unsafe", 100))

	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, ledger,
		&scriptedAgent{
			id: "unsafe", bid: true, price: 5, ledger: ledger,
			creative: domain.Creative{ID: "cr-x", Categories: []string{"gambling"}},
		},
	)

	_, ok, err := c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 200*time.Millisecond), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, spend, _ := ledger.Snapshot("unsafe")
	assert.Equal(t, 0.0, spend)
}

func TestCoordinatorSlowBidderDiscarded(t *testing.T) {
	ledger := NewBudgetLedger()
	require.NoError(t, ledger.Register("fast", 100))
	require.NoError(t, ledger.Register("slow", 100))

	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, ledger,
		&scriptedAgent{id: "fast", bid: true, price: 3, ledger: ledger},
		&scriptedAgent{id: "slow", bid: true, price: 50, delay: 300 * time.Millisecond, ledger: ledger},
	)

	start := time.Now()
	rec, ok, err := c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 60*time.Millisecond), nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fast", rec.Winner.BidderID)

	// The auction ends near the deadline, never waiting out the straggler.
	assert.Less(t, elapsed, 250*time.Millisecond)

	// The late offer's reservation is reaped in the background.
	assert.Eventually(t, func() bool {
		_, spend, _ := ledger.Snapshot("slow")
		return spend == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinatorPanicIsolation(t *testing.T) {
	ledger := NewBudgetLedger()
	require.NoError(t, ledger.Register("good", 100))

	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, ledger,
		&scriptedAgent{id: "boom", panics: true},
		&scriptedAgent{id: "good", bid: true, price: 2, ledger: ledger},
	)

	rec, ok, err := c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 200*time.Millisecond), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "good", rec.Winner.BidderID)
}

func TestCoordinatorAgentErrorIsDecline(t *testing.T) {
	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, NewBudgetLedger(),
		&scriptedAgent{id: "bad", err: errors.New("backend down")},
	)

	_, ok, err := c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 200*time.Millisecond), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinatorNoBiddersNoFill(t *testing.T) {
	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, NewBudgetLedger())

	_, ok, err := c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 100*time.Millisecond), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinatorDuplicateOpportunity(t *testing.T) {
	ledger := NewBudgetLedger()
	require.NoError(t, ledger.Register("a", 100))
	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, ledger,
		&scriptedAgent{id: "a", bid: true, price: 5, ledger: ledger},
	)

	_, ok, err := c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 200*time.Millisecond), nil)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = c.RunAuction(context.Background(), testOpportunity("opp-1", 1, 200*time.Millisecond), nil)
	assert.ErrorIs(t, err, domain.ErrDuplicateOpportunity)
}

func TestCoordinatorCancelledContext(t *testing.T) {
	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, NewBudgetLedger(),
		&scriptedAgent{id: "a", bid: true, price: 5, delay: 100 * time.Millisecond},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.RunAuction(ctx, testOpportunity("opp-1", 1, 200*time.Millisecond), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoordinatorCancelledMidAuctionReleasesReservations(t *testing.T) {
	ledger := NewBudgetLedger()
	require.NoError(t, ledger.Register("fast", 100))
	require.NoError(t, ledger.Register("slow", 100))

	// The fast bidder reserves and offers immediately; the slow one is
	// still deciding when the caller disconnects.
	c := newTestCoordinator(t, domain.AuctionTypeFirstPrice, ledger,
		&scriptedAgent{id: "fast", bid: true, price: 5, ledger: ledger},
		&scriptedAgent{id: "slow", bid: true, price: 7, delay: 400 * time.Millisecond, ledger: ledger},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, _, err := c.RunAuction(ctx, testOpportunity("opp-1", 1, 500*time.Millisecond), nil)
	assert.ErrorIs(t, err, context.Canceled)

	// Nothing served, so neither the collected offer nor the straggler may
	// keep its charge.
	assert.Eventually(t, func() bool {
		_, fastSpend, _ := ledger.Snapshot("fast")
		_, slowSpend, _ := ledger.Snapshot("slow")
		return fastSpend == 0 && slowSpend == 0
	}, time.Second, 10*time.Millisecond)
}
