// Package service wires the auction core to its collaborators: placement
// catalog, segment resolution, audit persistence, and event publishing.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openadx/adexchange/internal/auction"
	"github.com/openadx/adexchange/internal/domain"
)

// exportTimeout bounds one write-behind store insert.
const exportTimeout = 5 * time.Second

// AuditService owns the exchange-level audit log: the record of the winning
// auction for every filled opportunity. The in-memory log is authoritative;
// a configured store receives records write-behind and serves reads that
// outlive the process.
type AuditService struct {
	log    *auction.AuditLog
	store  domain.AuditStore // may be nil
	logger *slog.Logger
}

// NewAuditService creates an AuditService. A nil store disables export.
func NewAuditService(store domain.AuditStore, logger *slog.Logger) *AuditService {
	return &AuditService{
		log:    auction.NewAuditLog(),
		store:  store,
		logger: logger.With(slog.String("component", "audit_service")),
	}
}

// Record appends the cleared auction to the log and exports it in the
// background. A duplicate opportunity id is a programming error and is
// returned to the caller; it never overwrites the existing record.
func (s *AuditService) Record(ctx context.Context, rec domain.ClearedAuction) error {
	if err := s.log.Append(rec); err != nil {
		return fmt.Errorf("audit: record %s: %w", rec.OpportunityID, err)
	}
	if s.store == nil {
		return nil
	}
	go func() {
		exportCtx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := s.store.Insert(exportCtx, rec); err != nil {
			s.logger.Warn("audit export failed",
				slog.String("opportunity_id", rec.OpportunityID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Get returns the audit record for an opportunity id, falling back to the
// store for records no longer held in memory.
func (s *AuditService) Get(ctx context.Context, opportunityID string) (domain.ClearedAuction, error) {
	if rec, ok := s.log.Get(opportunityID); ok {
		return rec, nil
	}
	if s.store != nil {
		rec, err := s.store.GetByOpportunity(ctx, opportunityID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.ClearedAuction{}, fmt.Errorf("audit: get %s: %w", opportunityID, err)
		}
	}
	return domain.ClearedAuction{}, domain.ErrNotFound
}

// Recent returns up to n records from the in-memory log, newest first.
func (s *AuditService) Recent(n int) []domain.ClearedAuction {
	return s.log.Recent(n)
}
