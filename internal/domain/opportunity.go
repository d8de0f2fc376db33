// Package domain defines the core types, store interfaces, and sentinel
// errors shared by every layer of the ad exchange.
package domain

import "time"

// ImpressionContext describes one impression as seen by the supply side:
// which placement fired, for which user, on what device.
type ImpressionContext struct {
	PlacementID string
	UserID      string
	DeviceType  string
	Timestamp   time.Time
	Geo         string // optional, ISO country code
}

// BrandSafety lists ad categories the surrounding content refuses to carry.
type BrandSafety struct {
	Sensitive          bool
	ExcludedCategories []string
}

// PlacementContext captures the editorial context of a placement, used for
// contextual targeting and brand-safety enforcement.
type PlacementContext struct {
	Section     string
	ContentType string
	Categories  []string
	Keywords    []string
	BrandSafety BrandSafety
}

// Placement is one registered ad slot on a publisher property.
type Placement struct {
	ID          string
	PublisherID string
	Size        string // e.g. "300x250"
	Type        string // e.g. "banner", "video", "native"
	Position    string // e.g. "article_middle", "sidebar"
	FloorPrice  float64
	Context     PlacementContext
}

// Opportunity is one impression's bidding context: the resolved placement,
// the effective floor price, and an absolute deadline by which every bidder
// must have responded. Immutable once created.
type Opportunity struct {
	ID         string
	Impression ImpressionContext
	Placement  Placement
	FloorPrice float64 // effective floor; >= Placement.FloorPrice
	Deadline   time.Time
}

// Remaining returns the time left before the opportunity's deadline. It is
// negative once the deadline has passed.
func (o Opportunity) Remaining(now time.Time) time.Duration {
	return o.Deadline.Sub(now)
}
