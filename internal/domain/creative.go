package domain

// Creative is one ad asset registered by an advertiser with a demand-side
// bidder. Creatives are owned by the bidder's registry; offers reference
// them by value and never mutate them.
type Creative struct {
	ID             string
	AdvertiserID   string
	Type           string // must match Placement.Type to serve
	Size           string // must match Placement.Size to serve
	Content        string
	TargetSegments []string
	Categories     []string // e.g. "technology", "gambling"
	BrandName      string
}
