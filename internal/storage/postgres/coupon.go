package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

const (
	couponColumns = `id, code, merchant_id, kind, value, min_order_value,
		max_uses, used_count, active, valid_from, valid_until, created_at`

	// Own coupons beat global ones, which beat other merchants' coupons; the
	// validator rejects the last kind with wrong_merchant.
	findActiveCouponSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE code = $1 AND active = TRUE
		ORDER BY CASE
			WHEN merchant_id = $2 THEN 0
			WHEN merchant_id IS NULL THEN 1
			ELSE 2
		END, created_at
		LIMIT 1`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	hasCouponUsageSQL = `SELECT EXISTS (
		SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND customer_id = $2)`

	createCouponSQL = `INSERT INTO coupons (id, code, merchant_id, kind, value,
		min_order_value, max_uses, used_count, active, valid_from, valid_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	setCouponActiveSQL = `UPDATE coupons SET active = $2 WHERE id = $1`

	updateCouponTermsSQL = `UPDATE coupons SET merchant_id = $2, kind = $3, value = $4,
		min_order_value = $5, max_uses = $6, valid_from = $7, valid_until = $8
		WHERE id = $1
		RETURNING ` + couponColumns

	// Orders keep their row with coupon_id nulled and usage records go with
	// the coupon, both through the foreign key actions.
	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	couponUsedCountSQL = `SELECT used_count FROM coupons WHERE id = $1`

	setCouponUsedCountSQL = `UPDATE coupons SET used_count = $2 WHERE id = $1`

	incrementCouponUsedCountSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (max_uses IS NULL OR used_count < max_uses)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`

	insertCouponUsageSQL = `INSERT INTO coupon_usages (coupon_id, customer_id, order_id, used_at)
		VALUES ($1, $2, $3, $4)`
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Catalog    = (*CouponRepository)(nil)
	_ coupon.UsageStore = (*CouponRepository)(nil)
	_ coupon.UsageStore = usageStore{}
)

// CouponRepository implements coupon lookup, management and a usage store
// whose every call is its own statement.
type CouponRepository struct {
	usageStore
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{usageStore: usageStore{q: pool}, pool: pool}
}

// FindActiveByCode returns the best matching active coupon for merchantID.
func (r *CouponRepository) FindActiveByCode(ctx context.Context, code, merchantID string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, findActiveCouponSQL, code, merchantID)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// HasUsage reports whether a usage record exists for the pair.
func (r *CouponRepository) HasUsage(ctx context.Context, couponID, customerID string) (bool, error) {
	var used bool
	if err := r.pool.QueryRow(ctx, hasCouponUsageSQL, couponID, customerID).Scan(&used); err != nil {
		return false, fmt.Errorf("checking usage of coupon %q: %w", couponID, err)
	}
	return used, nil
}

// Create inserts a coupon definition.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.ID, c.Code, nullString(c.MerchantID), string(c.Kind), c.Value,
		c.MinOrderValue, c.MaxUses, c.UsedCount, c.Active, c.ValidFrom, c.ValidUntil, c.CreatedAt,
	)
	if err != nil {
		if uniqueViolationOn(err, "coupons_scope_code_idx") {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// Get returns a coupon by id regardless of its active flag.
func (r *CouponRepository) Get(ctx context.Context, id string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %q: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %q: %w", id, err)
	}
	return &c, nil
}

// Update replaces the coupon terms. Usage rows reference the coupon id and
// are left untouched.
func (r *CouponRepository) Update(ctx context.Context, id string, t coupon.Terms) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, updateCouponTermsSQL,
		id, nullString(t.MerchantID), string(t.Kind), t.Value,
		t.MinOrderValue, t.MaxUses, t.ValidFrom, t.ValidUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("updating coupon %q: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, coupon.ErrNotFound
	case uniqueViolationOn(err, "coupons_scope_code_idx"):
		return nil, coupon.ErrDuplicateCode
	case err != nil:
		return nil, fmt.Errorf("updating coupon %q: %w", id, err)
	}
	return &c, nil
}

// SetActive toggles the coupon.
func (r *CouponRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, setCouponActiveSQL, id, active)
	if err != nil {
		return fmt.Errorf("setting coupon %q active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes the coupon and its usage records.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// usageStore runs usage statements on a pool or inside a transaction.
type usageStore struct {
	q querier
}

func (s usageStore) UsedCount(ctx context.Context, couponID string) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, couponUsedCountSQL, couponID).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, coupon.ErrNotFound
		}
		return 0, fmt.Errorf("reading used count of coupon %q: %w", couponID, err)
	}
	return n, nil
}

func (s usageStore) SetUsedCount(ctx context.Context, couponID string, count int) error {
	tag, err := s.q.Exec(ctx, setCouponUsedCountSQL, couponID, count)
	if err != nil {
		return fmt.Errorf("writing used count of coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (s usageStore) IncrementUsedCount(ctx context.Context, couponID string) error {
	tag, err := s.q.Exec(ctx, incrementCouponUsedCountSQL, couponID)
	if err != nil {
		return fmt.Errorf("incrementing used count of coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx, couponExistsSQL, couponID).Scan(&exists); err != nil {
		return fmt.Errorf("checking coupon %q: %w", couponID, err)
	}
	if !exists {
		return coupon.ErrNotFound
	}
	return coupon.ErrExhausted
}

func (s usageStore) InsertUsage(ctx context.Context, rec coupon.UsageRecord) error {
	usedAt := rec.UsedAt
	if usedAt.IsZero() {
		usedAt = time.Now()
	}
	_, err := s.q.Exec(ctx, insertCouponUsageSQL, rec.CouponID, rec.CustomerID, nullString(rec.OrderID), usedAt)
	if err != nil {
		if uniqueViolationOn(err, "coupon_usages_pkey") {
			return coupon.ErrAlreadyUsed
		}
		return fmt.Errorf("recording usage of coupon %q: %w", rec.CouponID, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		merchantID *string
		kind       string
	)
	err := row.Scan(
		&c.ID, &c.Code, &merchantID, &kind, &c.Value, &c.MinOrderValue,
		&c.MaxUses, &c.UsedCount, &c.Active, &c.ValidFrom, &c.ValidUntil, &c.CreatedAt,
	)
	c.MerchantID = deref(merchantID)
	c.Kind = coupon.Kind(kind)
	return c, err
}

const (
	createCouponImportSQL = `CREATE TEMP TABLE coupon_import
		(LIKE coupons INCLUDING DEFAULTS) ON COMMIT DROP`

	mergeCouponImportSQL = `INSERT INTO coupons (` + couponColumns + `)
		SELECT ` + couponColumns + ` FROM coupon_import
		ON CONFLICT DO NOTHING`
)

var couponImportColumns = []string{
	"id", "code", "merchant_id", "kind", "value", "min_order_value",
	"max_uses", "used_count", "active", "valid_from", "valid_until", "created_at",
}

// Import bulk-loads coupons through COPY and merges them, skipping codes that
// already exist in their scope. It returns the number of inserted coupons.
func (r *CouponRepository) Import(ctx context.Context, coupons []coupon.Coupon) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning coupon import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, createCouponImportSQL); err != nil {
		return 0, fmt.Errorf("creating import table: %w", err)
	}

	src := pgx.CopyFromSlice(len(coupons), func(i int) ([]any, error) {
		c := &coupons[i]
		return []any{
			c.ID, c.Code, nullString(c.MerchantID), string(c.Kind), c.Value, c.MinOrderValue,
			c.MaxUses, c.UsedCount, c.Active, c.ValidFrom, c.ValidUntil, c.CreatedAt,
		}, nil
	})
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"coupon_import"}, couponImportColumns, src); err != nil {
		return 0, fmt.Errorf("copying coupons: %w", err)
	}

	tag, err := tx.Exec(ctx, mergeCouponImportSQL)
	if err != nil {
		return 0, fmt.Errorf("merging coupons: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing coupon import: %w", err)
	}
	return tag.RowsAffected(), nil
}
