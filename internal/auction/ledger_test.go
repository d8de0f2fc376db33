package auction

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openadx/adexchange/internal/domain"
)

func TestBudgetLedgerRegister(t *testing.T) {
	l := NewBudgetLedger()

	require.NoError(t, l.Register("dsp-1", 100))
	assert.ErrorIs(t, l.Register("dsp-1", 50), domain.ErrAlreadyExists)

	remaining, ok := l.Remaining("dsp-1")
	require.True(t, ok)
	assert.Equal(t, 100.0, remaining)

	_, ok = l.Remaining("unknown")
	assert.False(t, ok)
}

func TestBudgetLedgerReserve(t *testing.T) {
	l := NewBudgetLedger()
	require.NoError(t, l.Register("dsp-1", 10))

	assert.True(t, l.Reserve("dsp-1", 4))
	assert.True(t, l.Reserve("dsp-1", 6))

	// Cap reached: any further reservation is declined with no state change.
	assert.False(t, l.Reserve("dsp-1", 0.01))

	remaining, ok := l.Remaining("dsp-1")
	require.True(t, ok)
	assert.Equal(t, 0.0, remaining)

	assert.False(t, l.Reserve("unknown", 1))
	assert.False(t, l.Reserve("dsp-1", -1))
}

func TestBudgetLedgerRelease(t *testing.T) {
	l := NewBudgetLedger()
	require.NoError(t, l.Register("dsp-1", 10))
	require.True(t, l.Reserve("dsp-1", 7))

	l.Release("dsp-1", 3)
	cap, spend, ok := l.Snapshot("dsp-1")
	require.True(t, ok)
	assert.Equal(t, 10.0, cap)
	assert.Equal(t, 4.0, spend)

	// Over-release clamps spend at zero rather than inflating the budget.
	l.Release("dsp-1", 100)
	_, spend, _ = l.Snapshot("dsp-1")
	assert.Equal(t, 0.0, spend)

	l.Release("unknown", 5) // no-op
}

func TestBudgetLedgerConcurrentReserves(t *testing.T) {
	l := NewBudgetLedger()
	require.NoError(t, l.Register("dsp-1", 100))

	const workers = 50
	var wg sync.WaitGroup
	granted := make(chan struct{}, workers)

	// 50 goroutines each try to reserve 3 against a cap of 100: at most 33
	// may succeed, and spend must never exceed the cap.
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve("dsp-1", 3) {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 33, count)

	_, spend, ok := l.Snapshot("dsp-1")
	require.True(t, ok)
	assert.Equal(t, 99.0, spend)
	assert.LessOrEqual(t, spend, 100.0)
}
