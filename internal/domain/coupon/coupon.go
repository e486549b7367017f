package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage takes a percentage of the order subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed amount, capped at the subtotal.
	KindFixed Kind = "fixed"
)

var (
	// ErrNotFound is returned by management operations for an unknown coupon id.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when a code already exists in the same scope.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// Coupon is a discount definition with scope, validity window and usage cap.
type Coupon struct {
	ID   string
	Code string
	// MerchantID scopes the coupon to one merchant. Empty means global.
	MerchantID    string
	Kind          Kind
	Value         decimal.Decimal
	MinOrderValue *decimal.Decimal
	MaxUses       *int
	UsedCount     int
	Active        bool
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	CreatedAt     time.Time
}

// Global reports whether the coupon applies to every merchant.
func (c *Coupon) Global() bool {
	return c.MerchantID == ""
}

// UsageRecord is evidence that a customer redeemed a coupon once.
type UsageRecord struct {
	CouponID   string
	CustomerID string
	OrderID    string
	UsedAt     time.Time
}

// NormalizeCode returns the canonical stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides the read side used by validation.
type Repository interface {
	// FindActiveByCode returns an active coupon with the given normalized
	// code, preferring one owned by merchantID, then a global one, then any
	// other merchant's. It returns ErrInvalidCoupon when none exists.
	FindActiveByCode(ctx context.Context, code, merchantID string) (*Coupon, error)
	// HasUsage reports whether the customer already redeemed the coupon.
	HasUsage(ctx context.Context, couponID, customerID string) (bool, error)
}

// Catalog provides coupon management for operators and merchants.
type Catalog interface {
	Create(ctx context.Context, c *Coupon) error
	Get(ctx context.Context, id string) (*Coupon, error)
	SetActive(ctx context.Context, id string, active bool) error
	// Update replaces the terms of the coupon and returns the stored result.
	// It returns ErrDuplicateCode when the new scope already holds the code.
	Update(ctx context.Context, id string, t Terms) (*Coupon, error)
	// Delete removes the coupon, detaches it from orders and drops its usage
	// records.
	Delete(ctx context.Context, id string) error
}
