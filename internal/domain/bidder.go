package domain

import "context"

// BidderAgent wraps one demand source's decision logic. Decide returns the
// bidder's offer for the opportunity, or ok=false to decline. Declining is a
// normal outcome, not an error; an error means the agent itself failed and
// is treated as a decline by the coordinator.
//
// Decide must honour ctx cancellation: the coordinator abandons agents that
// outlive the opportunity deadline and discards any late result.
type BidderAgent interface {
	ID() string
	Decide(ctx context.Context, opp Opportunity, userSegments []string) (Offer, bool, error)
}

// BidderProfile is a snapshot of one bidder's budget state and registered
// creatives. Spend is monotonically non-decreasing and never exceeds Cap.
type BidderProfile struct {
	ID        string
	Name      string
	BudgetCap float64
	Spend     float64
	Creatives []Creative
}

// Remaining returns the budget still available to the bidder.
func (p BidderProfile) Remaining() float64 {
	return p.BudgetCap - p.Spend
}
