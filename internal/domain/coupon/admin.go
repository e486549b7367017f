package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvalidDefinitionError reports a coupon definition that cannot be stored.
type InvalidDefinitionError struct {
	Field  string
	Reason string
}

func (e *InvalidDefinitionError) Error() string {
	return fmt.Sprintf("invalid coupon %s: %s", e.Field, e.Reason)
}

// Admin manages coupon definitions.
type Admin struct {
	catalog Catalog
	now     func() time.Time
}

// NewAdmin creates an Admin on top of catalog.
func NewAdmin(catalog Catalog) *Admin {
	return &Admin{catalog: catalog, now: time.Now}
}

// Terms are the editable parts of a coupon definition. The code and usage
// counters are not part of them.
type Terms struct {
	// MerchantID scopes the coupon to one merchant. Empty means global.
	MerchantID    string
	Kind          Kind
	Value         decimal.Decimal
	MinOrderValue *decimal.Decimal
	MaxUses       *int
	ValidFrom     *time.Time
	ValidUntil    *time.Time
}

// Terms returns the editable parts of c.
func (c *Coupon) Terms() Terms {
	return Terms{
		MerchantID:    c.MerchantID,
		Kind:          c.Kind,
		Value:         c.Value,
		MinOrderValue: c.MinOrderValue,
		MaxUses:       c.MaxUses,
		ValidFrom:     c.ValidFrom,
		ValidUntil:    c.ValidUntil,
	}
}

// check reports the first problem of the terms. Percentage values must lie in
// (0, 100] and fixed values must be positive.
func (t Terms) check() error {
	switch t.Kind {
	case KindPercentage:
		if !t.Value.IsPositive() || t.Value.GreaterThan(hundred) {
			return &InvalidDefinitionError{Field: "value", Reason: "percentage must be within (0, 100]"}
		}
	case KindFixed:
		if !t.Value.IsPositive() {
			return &InvalidDefinitionError{Field: "value", Reason: "must be positive"}
		}
	default:
		return &InvalidDefinitionError{Field: "kind", Reason: fmt.Sprintf("unsupported %q", t.Kind)}
	}

	if t.MinOrderValue != nil && t.MinOrderValue.IsNegative() {
		return &InvalidDefinitionError{Field: "minOrderValue", Reason: "must not be negative"}
	}
	if t.MaxUses != nil && *t.MaxUses <= 0 {
		return &InvalidDefinitionError{Field: "maxUses", Reason: "must be positive"}
	}
	if t.ValidFrom != nil && t.ValidUntil != nil && t.ValidUntil.Before(*t.ValidFrom) {
		return &InvalidDefinitionError{Field: "validUntil", Reason: "before validFrom"}
	}
	return nil
}

// Create checks and normalizes the definition, assigns an id and stores it.
func (a *Admin) Create(ctx context.Context, c *Coupon) error {
	c.Code = NormalizeCode(c.Code)
	if c.Code == "" {
		return &InvalidDefinitionError{Field: "code", Reason: "required"}
	}
	if err := c.Terms().check(); err != nil {
		return err
	}

	c.ID = uuid.New().String()
	c.UsedCount = 0
	c.CreatedAt = a.now()

	if err := a.catalog.Create(ctx, c); err != nil {
		return errors.Wrap(err, "create coupon")
	}
	return nil
}

// Update replaces the terms of an existing coupon. Usage already recorded
// stays attached to the coupon, so a customer who redeemed it under the old
// scope is still rejected as having used it. Lowering MaxUses below the
// current count leaves the coupon exhausted.
func (a *Admin) Update(ctx context.Context, id string, t Terms) (*Coupon, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	c, err := a.catalog.Update(ctx, id, t)
	if err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	return c, nil
}

// Get returns a coupon definition by id.
func (a *Admin) Get(ctx context.Context, id string) (*Coupon, error) {
	return a.catalog.Get(ctx, id)
}

// SetActive toggles a coupon.
func (a *Admin) SetActive(ctx context.Context, id string, active bool) error {
	return a.catalog.SetActive(ctx, id, active)
}

// Delete removes a coupon together with its usage records.
func (a *Admin) Delete(ctx context.Context, id string) error {
	return a.catalog.Delete(ctx, id)
}
