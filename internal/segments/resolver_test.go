package segments

import (
	"context"
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

func newTestResolver(cache domain.SegmentCache) *Resolver {
	return NewResolver(DefaultRules(), cache, testLogger())
}

func visit(url string) domain.UserAction {
	return domain.UserAction{Type: domain.ActionPageVisit, URL: url}
}

func TestSegmentsForDerivesFromActivity(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(nil)

	require.NoError(t, r.Collect(ctx, "user-1", visit("https://www.underkg.de/news/phone-review")))
	require.NoError(t, r.Collect(ctx, "user-2", visit("https://example.com/sport/football")))

	segs, err := r.SegmentsFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tech-savvy"}, segs)

	segs, err = r.SegmentsFor(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"sports-enthusiast"}, segs)
}

func TestSegmentsForUnknownUserIsEmpty(t *testing.T) {
	r := newTestResolver(nil)

	segs, err := r.SegmentsFor(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestSegmentsForNonMatchingActivityIsEmpty(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(nil)
	require.NoError(t, r.Collect(ctx, "user-1", visit("https://example.com/cooking/recipes")))

	segs, err := r.SegmentsFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestSegmentsForDeduplicatesAndSorts(t *testing.T) {
	ctx := context.Background()
	r := newTestResolver(nil)

	// Two URLs per rule; each segment appears once, sorted.
	require.NoError(t, r.Collect(ctx, "user-1", visit("https://www.underkg.de/a")))
	require.NoError(t, r.Collect(ctx, "user-1", visit("https://www.underkg.de/b")))
	require.NoError(t, r.Collect(ctx, "user-1", visit("https://example.com/sport/x")))
	require.NoError(t, r.Collect(ctx, "user-1", visit("https://example.com/sport/y")))

	segs, err := r.SegmentsFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sports-enthusiast", "tech-savvy"}, segs)
}

func TestCollectStampsTimestamp(t *testing.T) {
	r := newTestResolver(nil)
	require.NoError(t, r.Collect(context.Background(), "user-1", visit("https://example.com/")))

	acts := r.Activity("user-1")
	require.Len(t, acts, 1)
	assert.False(t, acts[0].Timestamp.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), acts[0].Timestamp, time.Minute)
}

type fakeSegmentCache struct {
	entries     map[string][]string
	sets        int
	hits        int
	invalidates int
}

func newFakeSegmentCache() *fakeSegmentCache {
	return &fakeSegmentCache{entries: make(map[string][]string)}
}

func (c *fakeSegmentCache) Set(_ context.Context, userID string, segments []string) error {
	c.sets++
	c.entries[userID] = segments
	return nil
}

func (c *fakeSegmentCache) Get(_ context.Context, userID string) ([]string, error) {
	segs, ok := c.entries[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c.hits++
	return segs, nil
}

func (c *fakeSegmentCache) Invalidate(_ context.Context, userID string) error {
	c.invalidates++
	delete(c.entries, userID)
	return nil
}

func TestSegmentsForUsesCache(t *testing.T) {
	ctx := context.Background()
	cache := newFakeSegmentCache()
	r := newTestResolver(cache)

	require.NoError(t, r.Collect(ctx, "user-1", visit("https://www.underkg.de/news")))

	// First resolve misses and populates the cache.
	segs, err := r.SegmentsFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tech-savvy"}, segs)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 0, cache.hits)

	// Second resolve is served from the cache.
	segs, err = r.SegmentsFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tech-savvy"}, segs)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1, cache.hits)
}

func TestCollectInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	cache := newFakeSegmentCache()
	r := newTestResolver(cache)

	require.NoError(t, r.Collect(ctx, "user-1", visit("https://www.underkg.de/news")))

	_, err := r.SegmentsFor(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, cache.sets)

	// New activity drops the stale entry; the next resolve sees both segments.
	require.NoError(t, r.Collect(ctx, "user-1", visit("https://example.com/sport/news")))
	assert.GreaterOrEqual(t, cache.invalidates, 1)

	segs, err := r.SegmentsFor(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sports-enthusiast", "tech-savvy"}, segs)
}
