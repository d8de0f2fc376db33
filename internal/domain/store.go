package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditStore persists cleared-auction records durably. The in-process audit
// log is authoritative for the duplicate-id invariant; stores are write-
// behind collaborators and GetByOpportunity returns ErrNotFound when the
// record has not (yet) been exported.
type AuditStore interface {
	Insert(ctx context.Context, rec ClearedAuction) error
	GetByOpportunity(ctx context.Context, opportunityID string) (ClearedAuction, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]ClearedAuction, error)
}

// BidderStore persists bidder-profile snapshots for bidder-health reporting.
type BidderStore interface {
	UpsertProfile(ctx context.Context, p BidderProfile) error
	GetProfile(ctx context.Context, id string) (BidderProfile, error)
	ListProfiles(ctx context.Context, opts ListOpts) ([]BidderProfile, error)
}

// EventBus provides pub/sub for exchange events (cleared auctions, no-fills,
// malformed-offer signals) consumed by the websocket hub and any external
// monitor.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter limits request rates per key on the public API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
