// Package segments implements the data-management-platform collaborator:
// it collects user behavior events and derives targeting segment labels
// from them via configurable keyword rules.
package segments

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openadx/adexchange/internal/domain"
)

// Rule maps a URL keyword to a segment label: any collected action whose URL
// contains Keyword puts the user in Segment.
type Rule struct {
	Keyword string
	Segment string
}

// DefaultRules mirror the exchange's stock interest taxonomy.
func DefaultRules() []Rule {
	return []Rule{
		{Keyword: "underkg", Segment: "tech-savvy"},
		{Keyword: "spo", Segment: "sports-enthusiast"},
	}
}

// Resolver implements domain.SegmentResolver and domain.ActivityCollector
// over an in-memory activity store. An optional cache keeps the hot bid
// path off the rule scan; Collect invalidates the user's cache entry.
type Resolver struct {
	rules  []Rule
	cache  domain.SegmentCache // may be nil
	logger *slog.Logger

	mu      sync.RWMutex
	actions map[string][]domain.UserAction
}

// NewResolver creates a Resolver with the given rules. A nil cache disables
// caching.
func NewResolver(rules []Rule, cache domain.SegmentCache, logger *slog.Logger) *Resolver {
	return &Resolver{
		rules:   rules,
		cache:   cache,
		logger:  logger.With(slog.String("component", "segments")),
		actions: make(map[string][]domain.UserAction),
	}
}

// Collect implements domain.ActivityCollector.
func (r *Resolver) Collect(ctx context.Context, userID string, action domain.UserAction) error {
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	r.actions[userID] = append(r.actions[userID], action)
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, userID); err != nil {
			r.logger.Warn("segment cache invalidate failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Activity returns a copy of the user's collected actions.
func (r *Resolver) Activity(userID string) []domain.UserAction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserAction, len(r.actions[userID]))
	copy(out, r.actions[userID])
	return out
}

// SegmentsFor implements domain.SegmentResolver. Segments are returned
// sorted and deduplicated; a user with no matching activity gets an empty
// set, which is a normal no-targeting outcome, not an error.
func (r *Resolver) SegmentsFor(ctx context.Context, userID string) ([]string, error) {
	if r.cache != nil {
		if segs, err := r.cache.Get(ctx, userID); err == nil {
			return segs, nil
		}
	}

	segs := r.derive(userID)

	if r.cache != nil {
		if err := r.cache.Set(ctx, userID, segs); err != nil {
			r.logger.Warn("segment cache set failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return segs, nil
}

func (r *Resolver) derive(userID string) []string {
	r.mu.RLock()
	actions := r.actions[userID]
	set := make(map[string]struct{})
	for _, rule := range r.rules {
		for _, a := range actions {
			if strings.Contains(a.URL, rule.Keyword) {
				set[rule.Segment] = struct{}{}
				break
			}
		}
	}
	r.mu.RUnlock()

	segs := make([]string, 0, len(set))
	for s := range set {
		segs = append(segs, s)
	}
	sort.Strings(segs)
	return segs
}
