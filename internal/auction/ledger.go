// Package auction implements the core of the exchange: per-bidder budget
// accounting, eligibility matching, in-process bidder agents, the
// deadline-bounded auction coordinator, and the cross-coordinator router.
package auction

import (
	"sync"

	"github.com/openadx/adexchange/internal/domain"
)

// account tracks one bidder's spend against its cap. Each account carries
// its own lock so contention is scoped to a single bidder at a time.
type account struct {
	mu    sync.Mutex
	cap   float64
	spend float64
}

// BudgetLedger is the single piece of state shared across concurrent
// opportunities: per-bidder spend counters with atomic check-and-reserve.
// A failed reservation is a definitive decline, never retried.
type BudgetLedger struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

// NewBudgetLedger returns an empty ledger. Call Register before Reserve.
func NewBudgetLedger() *BudgetLedger {
	return &BudgetLedger{accounts: make(map[string]*account)}
}

// Register creates a budget account for the bidder with the given cap.
// It returns domain.ErrAlreadyExists if the bidder is already registered.
func (l *BudgetLedger) Register(bidderID string, cap float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[bidderID]; ok {
		return domain.ErrAlreadyExists
	}
	l.accounts[bidderID] = &account{cap: cap}
	return nil
}

func (l *BudgetLedger) account(bidderID string) (*account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[bidderID]
	return a, ok
}

// Reserve atomically increments the bidder's spend by amount iff
// spend+amount <= cap. It returns false, with no state change, when the
// bidder is unknown or the reservation would overspend the cap.
func (l *BudgetLedger) Reserve(bidderID string, amount float64) bool {
	a, ok := l.account(bidderID)
	if !ok || amount < 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spend+amount > a.cap {
		return false
	}
	a.spend += amount
	return true
}

// Release returns a previously reserved amount to the bidder's budget.
// Releasing more than is currently spent clamps spend at zero.
func (l *BudgetLedger) Release(bidderID string, amount float64) {
	a, ok := l.account(bidderID)
	if !ok || amount <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spend -= amount
	if a.spend < 0 {
		a.spend = 0
	}
}

// Remaining returns the budget still available to the bidder.
func (l *BudgetLedger) Remaining(bidderID string) (float64, bool) {
	a, ok := l.account(bidderID)
	if !ok {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cap - a.spend, true
}

// Snapshot returns the bidder's cap and current spend.
func (l *BudgetLedger) Snapshot(bidderID string) (cap, spend float64, ok bool) {
	a, found := l.account(bidderID)
	if !found {
		return 0, 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cap, a.spend, true
}
