package domain

import "time"

// AuctionType selects the clearing rule of a coordinator.
type AuctionType string

const (
	// AuctionTypeFirstPrice clears at the winner's own submitted price.
	AuctionTypeFirstPrice AuctionType = "first-price"
	// AuctionTypeSecondPrice clears at the second-highest valid price, or
	// the winner's own price when it is the only valid offer.
	AuctionTypeSecondPrice AuctionType = "second-price"
)

// Valid reports whether t is a known auction type.
func (t AuctionType) Valid() bool {
	return t == AuctionTypeFirstPrice || t == AuctionTypeSecondPrice
}

// Offer is a bidder's response to one opportunity: a price and a creative.
// At most one offer is produced per bidder per opportunity; immutable.
type Offer struct {
	BidderID      string
	OpportunityID string
	Price         float64 // submitted price, >= 0
	Creative      Creative
}

// ClearedAuction is the audit record of one cleared auction: the winning
// offer at its submitted price, the clearing price actually charged, and
// every admissible offer that was considered. Append-only, keyed by
// opportunity id.
type ClearedAuction struct {
	OpportunityID string
	CoordinatorID string
	AuctionType   AuctionType
	Timestamp     time.Time
	Winner        Offer
	ClearingPrice float64 // never exceeds Winner.Price
	Offers        []Offer // all admissible offers considered
	FloorPrice    float64
}
