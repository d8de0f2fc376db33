package auction

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadx/adexchange/internal/domain"
)

func TestAuditLogAppendAndGet(t *testing.T) {
	l := NewAuditLog()

	rec := domain.ClearedAuction{
		OpportunityID: "opp-1",
		CoordinatorID: "primary",
		ClearingPrice: 7,
	}
	require.NoError(t, l.Append(rec))

	got, ok := l.Get("opp-1")
	require.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok = l.Get("opp-2")
	assert.False(t, ok)
}

func TestAuditLogDuplicateAppend(t *testing.T) {
	l := NewAuditLog()
	require.NoError(t, l.Append(domain.ClearedAuction{OpportunityID: "opp-1", ClearingPrice: 5}))

	err := l.Append(domain.ClearedAuction{OpportunityID: "opp-1", ClearingPrice: 9})
	assert.ErrorIs(t, err, domain.ErrDuplicateOpportunity)

	// The original record is untouched.
	got, ok := l.Get("opp-1")
	require.True(t, ok)
	assert.Equal(t, 5.0, got.ClearingPrice)
	assert.Equal(t, 1, l.Len())
}

func TestAuditLogRecent(t *testing.T) {
	l := NewAuditLog()
	for i := 1; i <= 5; i++ {
		require.NoError(t, l.Append(domain.ClearedAuction{OpportunityID: fmt.Sprintf("opp-%d", i)}))
	}

	recent := l.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "opp-5", recent[0].OpportunityID)
	assert.Equal(t, "opp-4", recent[1].OpportunityID)
	assert.Equal(t, "opp-3", recent[2].OpportunityID)

	// n<=0 or n beyond the log size yields everything.
	assert.Len(t, l.Recent(0), 5)
	assert.Len(t, l.Recent(100), 5)
}

func TestAuditLogConcurrentAppends(t *testing.T) {
	l := NewAuditLog()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Append(domain.ClearedAuction{OpportunityID: fmt.Sprintf("opp-%d", i)})
		}()
	}
	wg.Wait()

	assert.Equal(t, n, l.Len())
}
