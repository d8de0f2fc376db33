package auction

import (
	"sync"

	"github.com/openadx/adexchange/internal/domain"
)

// AuditLog is an append-only, in-memory log of cleared auctions keyed by
// opportunity id. A duplicate append is a programming error, never a silent
// overwrite. Concurrent appends for distinct opportunities do not conflict.
type AuditLog struct {
	mu      sync.RWMutex
	records map[string]domain.ClearedAuction
	order   []string
}

// NewAuditLog returns an empty log.
func NewAuditLog() *AuditLog {
	return &AuditLog{records: make(map[string]domain.ClearedAuction)}
}

// Append stores the record. It returns domain.ErrDuplicateOpportunity if a
// record for the same opportunity id already exists.
func (l *AuditLog) Append(rec domain.ClearedAuction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[rec.OpportunityID]; ok {
		return domain.ErrDuplicateOpportunity
	}
	l.records[rec.OpportunityID] = rec
	l.order = append(l.order, rec.OpportunityID)
	return nil
}

// Get returns the record for the opportunity id.
func (l *AuditLog) Get(opportunityID string) (domain.ClearedAuction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[opportunityID]
	return rec, ok
}

// Recent returns up to n records, newest first.
func (l *AuditLog) Recent(n int) []domain.ClearedAuction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.order) {
		n = len(l.order)
	}
	out := make([]domain.ClearedAuction, 0, n)
	for i := len(l.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.records[l.order[i]])
	}
	return out
}

// Len returns the number of stored records.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}
