package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openadx/adexchange/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for duplicate primary keys.
const uniqueViolation = "23505"

// AuditStore implements domain.AuditStore using PostgreSQL. Records are
// append-only; a duplicate opportunity id surfaces as
// domain.ErrDuplicateOpportunity rather than an overwrite.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Insert appends a cleared-auction record. The winner and the full offer set
// are stored as JSONB alongside the queryable columns.
func (s *AuditStore) Insert(ctx context.Context, rec domain.ClearedAuction) error {
	winnerJSON, err := json.Marshal(rec.Winner)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit winner %s: %w", rec.OpportunityID, err)
	}
	offersJSON, err := json.Marshal(rec.Offers)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit offers %s: %w", rec.OpportunityID, err)
	}

	const query = `
		INSERT INTO audit_records
			(opportunity_id, coordinator_id, auction_type, cleared_at,
			 winner_bidder, winner_price, clearing_price, floor_price, winner, offers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.pool.Exec(ctx, query,
		rec.OpportunityID, rec.CoordinatorID, string(rec.AuctionType), rec.Timestamp,
		rec.Winner.BidderID, rec.Winner.Price, rec.ClearingPrice, rec.FloorPrice,
		winnerJSON, offersJSON,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: audit record %s: %w", rec.OpportunityID, domain.ErrDuplicateOpportunity)
		}
		return fmt.Errorf("postgres: insert audit record %s: %w", rec.OpportunityID, err)
	}
	return nil
}

// GetByOpportunity returns the audit record for the opportunity id, or
// domain.ErrNotFound.
func (s *AuditStore) GetByOpportunity(ctx context.Context, opportunityID string) (domain.ClearedAuction, error) {
	const query = `
		SELECT opportunity_id, coordinator_id, auction_type, cleared_at,
		       clearing_price, floor_price, winner, offers
		FROM audit_records WHERE opportunity_id = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, opportunityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ClearedAuction{}, domain.ErrNotFound
		}
		return domain.ClearedAuction{}, fmt.Errorf("postgres: get audit record %s: %w", opportunityID, err)
	}
	return rec, nil
}

// ListRecent returns audit records newest first, with pagination and
// optional time filtering.
func (s *AuditStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ClearedAuction, error) {
	query := `
		SELECT opportunity_id, coordinator_id, auction_type, cleared_at,
		       clearing_price, floor_price, winner, offers
		FROM audit_records WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND cleared_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND cleared_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY cleared_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit records: %w", err)
	}
	defer rows.Close()

	var records []domain.ClearedAuction
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit records rows: %w", err)
	}
	return records, nil
}

// ListBefore returns all audit records cleared strictly before the cutoff,
// oldest first. Used by the archiver.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClearedAuction, error) {
	const query = `
		SELECT opportunity_id, coordinator_id, auction_type, cleared_at,
		       clearing_price, floor_price, winner, offers
		FROM audit_records WHERE cleared_at < $1 ORDER BY cleared_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit records before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var records []domain.ClearedAuction
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit records before rows: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (domain.ClearedAuction, error) {
	var rec domain.ClearedAuction
	var auctionType string
	var winnerJSON, offersJSON []byte

	if err := row.Scan(
		&rec.OpportunityID, &rec.CoordinatorID, &auctionType, &rec.Timestamp,
		&rec.ClearingPrice, &rec.FloorPrice, &winnerJSON, &offersJSON,
	); err != nil {
		return domain.ClearedAuction{}, err
	}
	rec.AuctionType = domain.AuctionType(auctionType)

	if err := json.Unmarshal(winnerJSON, &rec.Winner); err != nil {
		return domain.ClearedAuction{}, fmt.Errorf("unmarshal winner: %w", err)
	}
	if err := json.Unmarshal(offersJSON, &rec.Offers); err != nil {
		return domain.ClearedAuction{}, fmt.Errorf("unmarshal offers: %w", err)
	}
	return rec, nil
}
