package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, idempotency_key, merchant_id, customer_id,
		customer_name, phone, fulfillment, address, subtotal, delivery_fee, discount,
		coupon_id, coupon_code, total, notes, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	orderColumns = `id, idempotency_key, merchant_id, customer_id, customer_name, phone,
		fulfillment, address, subtotal, delivery_fee, discount, coupon_id, coupon_code,
		total, notes, payment_method, status, created_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	getOrderItemsSQL = `SELECT product_id, name, unit_price, quantity, note
		FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderStatusSQL = `UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var orderItemColumns = []string{"order_id", "position", "product_id", "name", "unit_price", "quantity", "note"}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order, its items and, when redeem is set, the coupon
// redemption in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, redeem order.RedeemFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.IdempotencyKey, o.MerchantID, o.CustomerID,
		o.CustomerName, o.Phone, string(o.Fulfillment), encodeAddress(o.Address),
		o.Subtotal, o.DeliveryFee, o.Discount,
		nullString(o.CouponID), o.CouponCode, o.Total, o.Notes,
		string(o.PaymentMethod), string(o.Status), o.CreatedAt,
	)
	if err != nil {
		if uniqueViolationOn(err, "orders_idempotency_key_uniq") {
			return order.ErrDuplicateKey
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	rows := make([][]any, 0, len(o.Items))
	for i, it := range o.Items {
		rows = append(rows, []any{o.ID, i, it.ProductID, it.Name, it.UnitPrice, it.Quantity, it.Note})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}

	if redeem != nil {
		if err := redeem(ctx, usageStore{q: tx}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// FindByIdempotencyKey returns the order created for key or
// order.ErrNotFound.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return r.find(ctx, getOrderByKeySQL, key)
}

// Get returns the order with the given id or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.find(ctx, getOrderSQL, id)
}

// UpdateStatus moves the order from one status to another with a
// compare-and-set on the current value.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusConflict
}

func (r *OrderRepository) find(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order: %w", err)
	}

	rows, err = r.pool.Query(ctx, getOrderItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", o.ID, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", o.ID, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		fulfillment   string
		address       []byte
		couponID      *string
		paymentMethod string
		status        string
	)
	err := row.Scan(
		&o.ID, &o.IdempotencyKey, &o.MerchantID, &o.CustomerID, &o.CustomerName, &o.Phone,
		&fulfillment, &address, &o.Subtotal, &o.DeliveryFee, &o.Discount, &couponID, &o.CouponCode,
		&o.Total, &o.Notes, &paymentMethod, &status, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Fulfillment = order.Fulfillment(fulfillment)
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.Status = order.Status(status)
	o.CouponID = deref(couponID)
	o.Address, err = decodeAddress(address)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity, &it.Note)
	return it, err
}

// encodeAddress renders the address as a JSONB document, or nil for pickup.
func encodeAddress(a *order.Address) []byte {
	if a == nil {
		return nil
	}
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("street", func(e *jx.Encoder) { e.Str(a.Street) })
		e.Field("number", func(e *jx.Encoder) { e.Str(a.Number) })
		e.Field("district", func(e *jx.Encoder) { e.Str(a.District) })
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		if a.Reference != "" {
			e.Field("reference", func(e *jx.Encoder) { e.Str(a.Reference) })
		}
	})
	return e.Bytes()
}

func decodeAddress(raw []byte) (*order.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(raw)
	if d.Next() == jx.Null {
		return nil, nil
	}

	var a order.Address
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var field *string
		switch key {
		case "street":
			field = &a.Street
		case "number":
			field = &a.Number
		case "district":
			field = &a.District
		case "city":
			field = &a.City
		case "reference":
			field = &a.Reference
		default:
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return err
		}
		*field = v
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode address")
	}
	return &a, nil
}
