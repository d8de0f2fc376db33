package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openadx/adexchange/internal/domain"
)

// defaultSegmentTTL applies when no TTL is configured.
const defaultSegmentTTL = 5 * time.Minute

// SegmentCache implements domain.SegmentCache with JSON-serialized segment
// sets under segments:{userID}. The TTL bounds how stale a cached segment
// set may get when the collector misses an invalidation.
type SegmentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSegmentCache creates a SegmentCache backed by the given Client. A
// non-positive ttl falls back to the default.
func NewSegmentCache(c *Client, ttl time.Duration) *SegmentCache {
	if ttl <= 0 {
		ttl = defaultSegmentTTL
	}
	return &SegmentCache{rdb: c.Underlying(), ttl: ttl}
}

func segmentKey(userID string) string { return "segments:" + userID }

// Set stores the user's resolved segment set under the configured TTL. An
// empty set is cached too; a user with no segments is a valid resolution.
func (sc *SegmentCache) Set(ctx context.Context, userID string, segments []string) error {
	if segments == nil {
		segments = []string{}
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("redis: marshal segments for %s: %w", userID, err)
	}
	if err := sc.rdb.Set(ctx, segmentKey(userID), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set segments for %s: %w", userID, err)
	}
	return nil
}

// Get retrieves the cached segment set for the user. It returns
// domain.ErrNotFound on a miss.
func (sc *SegmentCache) Get(ctx context.Context, userID string) ([]string, error) {
	data, err := sc.rdb.Get(ctx, segmentKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get segments for %s: %w", userID, err)
	}
	var segments []string
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("redis: unmarshal segments for %s: %w", userID, err)
	}
	return segments, nil
}

// Invalidate drops the user's cached segment set.
func (sc *SegmentCache) Invalidate(ctx context.Context, userID string) error {
	if err := sc.rdb.Del(ctx, segmentKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate segments for %s: %w", userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SegmentCache = (*SegmentCache)(nil)
