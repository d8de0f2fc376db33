package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openadx/adexchange/internal/domain"
)

// BidderStore implements domain.BidderStore using PostgreSQL.
type BidderStore struct {
	pool *pgxpool.Pool
}

// NewBidderStore creates a new BidderStore backed by the given connection pool.
func NewBidderStore(pool *pgxpool.Pool) *BidderStore {
	return &BidderStore{pool: pool}
}

// UpsertProfile writes the bidder's current budget and creative snapshot.
func (s *BidderStore) UpsertProfile(ctx context.Context, p domain.BidderProfile) error {
	creativesJSON, err := json.Marshal(p.Creatives)
	if err != nil {
		return fmt.Errorf("postgres: marshal creatives for bidder %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO bidder_profiles (id, name, budget_cap, spend, creatives, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			budget_cap = EXCLUDED.budget_cap,
			spend = EXCLUDED.spend,
			creatives = EXCLUDED.creatives,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, p.ID, p.Name, p.BudgetCap, p.Spend, creativesJSON); err != nil {
		return fmt.Errorf("postgres: upsert bidder profile %s: %w", p.ID, err)
	}
	return nil
}

// GetProfile returns the stored profile for the bidder id, or
// domain.ErrNotFound.
func (s *BidderStore) GetProfile(ctx context.Context, id string) (domain.BidderProfile, error) {
	const query = `SELECT id, name, budget_cap, spend, creatives FROM bidder_profiles WHERE id = $1`
	p, err := scanProfile(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BidderProfile{}, domain.ErrNotFound
		}
		return domain.BidderProfile{}, fmt.Errorf("postgres: get bidder profile %s: %w", id, err)
	}
	return p, nil
}

// ListProfiles returns stored profiles ordered by id.
func (s *BidderStore) ListProfiles(ctx context.Context, opts domain.ListOpts) ([]domain.BidderProfile, error) {
	query := `SELECT id, name, budget_cap, spend, creatives FROM bidder_profiles ORDER BY id`
	args := []any{}
	if opts.Limit > 0 {
		query += " LIMIT $1"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET $2"
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		query += " OFFSET $1"
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bidder profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.BidderProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bidder profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bidder profiles rows: %w", err)
	}
	return profiles, nil
}

func scanProfile(row pgx.Row) (domain.BidderProfile, error) {
	var p domain.BidderProfile
	var creativesJSON []byte
	if err := row.Scan(&p.ID, &p.Name, &p.BudgetCap, &p.Spend, &creativesJSON); err != nil {
		return domain.BidderProfile{}, err
	}
	if err := json.Unmarshal(creativesJSON, &p.Creatives); err != nil {
		return domain.BidderProfile{}, fmt.Errorf("unmarshal creatives: %w", err)
	}
	return p, nil
}
