package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace/internal/domain/merchant"
)

const (
	merchantColumns = `id, name, phone, is_open, opening_hours, delivery_fee`

	getMerchantSQL = `SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1`

	listScheduledMerchantsSQL = `SELECT ` + merchantColumns + ` FROM merchants
		WHERE opening_hours IS NOT NULL
		  AND opening_hours <> 'null'::jsonb
		  AND opening_hours <> '{}'::jsonb
		ORDER BY id`

	setMerchantOpenSQL = `UPDATE merchants SET is_open = $2 WHERE id = $1`

	upsertMerchantSQL = `INSERT INTO merchants (` + merchantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			is_open = EXCLUDED.is_open,
			opening_hours = EXCLUDED.opening_hours,
			delivery_fee = EXCLUDED.delivery_fee`
)

var _ merchant.Repository = (*MerchantRepository)(nil)

// MerchantRepository implements merchant.Repository backed by PostgreSQL.
type MerchantRepository struct {
	pool *pgxpool.Pool
}

// NewMerchantRepository returns a MerchantRepository that uses the given pool.
func NewMerchantRepository(pool *pgxpool.Pool) *MerchantRepository {
	return &MerchantRepository{pool: pool}
}

// Get returns the merchant with the given id or merchant.ErrNotFound.
func (r *MerchantRepository) Get(ctx context.Context, id string) (*merchant.Merchant, error) {
	rows, err := r.pool.Query(ctx, getMerchantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting merchant %q: %w", id, err)
	}

	m, err := pgx.CollectExactlyOneRow(rows, scanMerchant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, merchant.ErrNotFound
		}
		return nil, fmt.Errorf("getting merchant %q: %w", id, err)
	}
	return &m, nil
}

// ListScheduled returns every merchant that has opening hours configured.
func (r *MerchantRepository) ListScheduled(ctx context.Context) ([]merchant.Merchant, error) {
	rows, err := r.pool.Query(ctx, listScheduledMerchantsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing scheduled merchants: %w", err)
	}

	merchants, err := pgx.CollectRows(rows, scanMerchant)
	if err != nil {
		return nil, fmt.Errorf("listing scheduled merchants: %w", err)
	}
	return merchants, nil
}

// SetOpen stores the open flag.
func (r *MerchantRepository) SetOpen(ctx context.Context, id string, open bool) error {
	tag, err := r.pool.Exec(ctx, setMerchantOpenSQL, id, open)
	if err != nil {
		return fmt.Errorf("setting open flag of merchant %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return merchant.ErrNotFound
	}
	return nil
}

func scanMerchant(row pgx.CollectableRow) (merchant.Merchant, error) {
	var m merchant.Merchant
	err := row.Scan(&m.ID, &m.Name, &m.Phone, &m.IsOpen, &m.OpeningHours, &m.DeliveryFee)
	return m, err
}

// Upsert inserts or replaces a merchant.
func (r *MerchantRepository) Upsert(ctx context.Context, m *merchant.Merchant) error {
	_, err := r.pool.Exec(ctx, upsertMerchantSQL, m.ID, m.Name, m.Phone, m.IsOpen, m.OpeningHours, m.DeliveryFee)
	if err != nil {
		return fmt.Errorf("upserting merchant %q: %w", m.ID, err)
	}
	return nil
}
