package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

// Fulfillment is how an order reaches the customer.
type Fulfillment string

const (
	FulfillmentDelivery Fulfillment = "delivery"
	FulfillmentPickup   Fulfillment = "pickup"
)

// PaymentMethod is how the customer pays at handoff.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

// Address is a delivery destination.
type Address struct {
	Street    string
	Number    string
	District  string
	City      string
	Reference string
}

// Item is an order line with a price snapshot taken at submission.
type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Note      string
}

// LineTotal returns UnitPrice × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a persisted customer order.
//
// Total always equals Subtotal + DeliveryFee - Discount, and Discount lies in
// [0, Subtotal].
type Order struct {
	ID             string
	IdempotencyKey string
	MerchantID     string
	CustomerID     string
	CustomerName   string
	Phone          string
	Fulfillment    Fulfillment
	Address        *Address
	Items          []Item
	Subtotal       decimal.Decimal
	DeliveryFee    decimal.Decimal
	Discount       decimal.Decimal
	CouponID       string
	CouponCode     string
	Total          decimal.Decimal
	Notes          string
	PaymentMethod  PaymentMethod
	Status         Status
	CreatedAt      time.Time
}

// RedeemFunc applies a coupon redemption through a UsageStore bound to the
// order's transaction.
type RedeemFunc func(ctx context.Context, usage coupon.UsageStore) error

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order and its items. When redeem is not nil it runs
	// inside the same transaction and its error aborts the insert. A second
	// order with the same idempotency key fails with ErrDuplicateKey.
	Create(ctx context.Context, o *Order, redeem RedeemFunc) error
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	// UpdateStatus sets the status to `to` only if it is still `from`, and
	// returns ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}

// Locker serializes submissions sharing an idempotency key.
type Locker interface {
	// Acquire takes the lock for key. It returns false when someone else
	// holds it. The token identifies this holder to Release.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release drops the lock only while token still holds it. A lock that
	// expired and was taken by another holder is left alone.
	Release(ctx context.Context, key, token string) error
}

// Handoff is the order summary sent to the merchant's messaging channel.
type Handoff struct {
	OrderID       string
	MerchantID    string
	MerchantName  string
	MerchantPhone string
	Total         decimal.Decimal
	Text          string
}

// Notifier delivers handoffs. Failures never affect the order.
type Notifier interface {
	Notify(ctx context.Context, h Handoff) error
}
