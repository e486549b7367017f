package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Request is the input of a coupon validation.
type Request struct {
	Code       string
	MerchantID string
	Subtotal   decimal.Decimal
	CustomerID string
}

// Result is a successful validation: a snapshot of the coupon and the
// discount it grants on the requested subtotal.
type Result struct {
	Coupon   Coupon
	Discount decimal.Decimal
}

// Checker validates a coupon for an order.
type Checker interface {
	Validate(ctx context.Context, req Request) (*Result, error)
}

var _ Checker = (*Validator)(nil)

// Validator implements Checker on top of a Repository. It is read-only.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// Validate runs the checks in a fixed order and returns the first failure as
// a *ValidationError:
//
//  1. active coupon with the normalized code exists
//  2. coupon is global or owned by the target merchant
//  3. now is inside [valid_from, valid_until]
//  4. usage cap not reached
//  5. subtotal meets the minimum order value
//  6. customer has no usage record for the coupon
//
// Infrastructure failures are returned wrapped and are not ValidationErrors.
func (v *Validator) Validate(ctx context.Context, req Request) (*Result, error) {
	c, err := v.repo.FindActiveByCode(ctx, NormalizeCode(req.Code), req.MerchantID)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !c.Global() && c.MerchantID != req.MerchantID {
		return nil, ErrWrongMerchant
	}

	now := v.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrNotYetValid
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrExpired
	}

	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return nil, ErrExhausted
	}

	if c.MinOrderValue != nil && req.Subtotal.LessThan(*c.MinOrderValue) {
		return nil, belowMinimum(*c.MinOrderValue)
	}

	used, err := v.repo.HasUsage(ctx, c.ID, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup coupon usage")
	}
	if used {
		return nil, ErrAlreadyUsed
	}

	discount, err := Calculate(c.Kind, c.Value, req.Subtotal)
	if err != nil {
		return nil, err
	}

	return &Result{Coupon: *c, Discount: discount}, nil
}
