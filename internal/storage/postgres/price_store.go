package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/storage"
)

// PriceStore implements storage.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *Pool
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// The WHERE clause skips rows whose quote did not change, so a repeated
// identical snapshot leaves the table (updated_at included) untouched.
const upsertPriceQuery = `
	INSERT INTO crypto_data (name, last, buy, sell, volume, base_unit, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (name) DO UPDATE SET
		last = EXCLUDED.last,
		buy = EXCLUDED.buy,
		sell = EXCLUDED.sell,
		volume = EXCLUDED.volume,
		base_unit = EXCLUDED.base_unit,
		updated_at = EXCLUDED.updated_at
	WHERE (crypto_data.last, crypto_data.buy, crypto_data.sell, crypto_data.volume, crypto_data.base_unit)
		IS DISTINCT FROM (EXCLUDED.last, EXCLUDED.buy, EXCLUDED.sell, EXCLUDED.volume, EXCLUDED.base_unit)
`

// UpsertBatch writes all records in one transaction. Any failure rolls back
// the whole batch and leaves the previous snapshot in place.
func (s *PriceStore) UpsertBatch(ctx context.Context, records []*domain.PriceRecord, policy domain.PrunePolicy) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	names := make([]string, 0, len(records))
	for _, r := range records {
		if r == nil || r.Name == "" {
			return 0, storage.ErrInvalidInput
		}
		names = append(names, r.Name)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		_, err := tx.Exec(ctx, upsertPriceQuery, r.Name, r.Last, r.Buy, r.Sell, r.Volume, r.BaseUnit)
		if err != nil {
			return 0, fmt.Errorf("upsert price %s: %w", r.Name, err)
		}
	}

	var pruned int64
	if policy == domain.PruneStale {
		tag, err := tx.Exec(ctx, `DELETE FROM crypto_data WHERE NOT (name = ANY($1))`, names)
		if err != nil {
			return 0, fmt.Errorf("prune stale prices: %w", err)
		}
		pruned = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return pruned, nil
}

// GetByName retrieves the record for an instrument. Returns ErrNotFound if absent.
func (s *PriceStore) GetByName(ctx context.Context, name string) (*domain.PriceRecord, error) {
	return getPriceByName(ctx, s.pool, name)
}

// GetAll retrieves all stored records ordered by name ASC.
func (s *PriceStore) GetAll(ctx context.Context) ([]*domain.PriceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, last, buy, sell, volume, base_unit, updated_at
		FROM crypto_data
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get all prices: %w", err)
	}
	defer rows.Close()

	var records []*domain.PriceRecord
	for rows.Next() {
		p, err := scanPriceRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price rows: %w", err)
	}

	return records, nil
}

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPriceByName(ctx context.Context, q querier, name string) (*domain.PriceRecord, error) {
	row := q.QueryRow(ctx, `
		SELECT name, last, buy, sell, volume, base_unit, updated_at
		FROM crypto_data
		WHERE name = $1
	`, name)

	p, err := scanPriceRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get price by name: %w", err)
	}
	return p, nil
}

// scanPriceRecord scans a single row into a PriceRecord.
func scanPriceRecord(row pgx.Row) (*domain.PriceRecord, error) {
	var p domain.PriceRecord
	err := row.Scan(&p.Name, &p.Last, &p.Buy, &p.Sell, &p.Volume, &p.BaseUnit, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
