package domain

import (
	"context"
	"time"
)

// ActionType classifies one recorded user action.
type ActionType string

const (
	ActionPageVisit ActionType = "page_visit"
	ActionClick     ActionType = "click"
)

// UserAction is a single behavioral event collected for segment derivation.
type UserAction struct {
	Type      ActionType
	URL       string
	Timestamp time.Time
}

// SegmentResolver derives targeting segment labels for a user. The exchange
// makes no assumption about how segments are computed; the default
// implementation is a keyword-rule engine over collected activity.
type SegmentResolver interface {
	SegmentsFor(ctx context.Context, userID string) ([]string, error)
}

// ActivityCollector ingests user behavior events.
type ActivityCollector interface {
	Collect(ctx context.Context, userID string, action UserAction) error
}

// SegmentCache caches resolved segment sets to keep the hot bid path off the
// resolver. Get returns ErrNotFound on a miss.
type SegmentCache interface {
	Set(ctx context.Context, userID string, segments []string) error
	Get(ctx context.Context, userID string) ([]string, error)
	Invalidate(ctx context.Context, userID string) error
}
