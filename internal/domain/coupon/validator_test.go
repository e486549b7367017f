package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCouponRepo struct {
	coupon   *Coupon
	err      error
	used     bool
	usageErr error

	lookedUp string
}

func (m *mockCouponRepo) FindActiveByCode(_ context.Context, code, _ string) (*Coupon, error) {
	m.lookedUp = code
	if m.err != nil {
		return nil, m.err
	}
	if m.coupon == nil {
		return nil, ErrInvalidCoupon
	}
	c := *m.coupon
	return &c, nil
}

func (m *mockCouponRepo) HasUsage(_ context.Context, _, _ string) (bool, error) {
	return m.used, m.usageErr
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int { return &n }

func TestValidator_Validate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	base := func(mod func(c *Coupon)) *Coupon {
		c := &Coupon{
			ID:     "c1",
			Code:   "SAVE10",
			Kind:   KindPercentage,
			Value:  dec("10"),
			Active: true,
		}
		if mod != nil {
			mod(c)
		}
		return c
	}

	tests := []struct {
		name         string
		repo         *mockCouponRepo
		req          Request
		wantDiscount string
		wantErr      error
		wantMessage  string
	}{
		{
			name:         "percentage discount",
			repo:         &mockCouponRepo{coupon: base(nil)},
			req:          Request{Code: "save10", MerchantID: "m1", Subtotal: dec("100.00"), CustomerID: "u1"},
			wantDiscount: "10.00",
		},
		{
			name: "fixed discount capped at subtotal",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.Kind = KindFixed
				c.Value = dec("20.00")
			})},
			req:          Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("5.00"), CustomerID: "u1"},
			wantDiscount: "5.00",
		},
		{
			name:        "unknown code",
			repo:        &mockCouponRepo{},
			req:         Request{Code: "BOGUS", MerchantID: "m1", Subtotal: dec("10")},
			wantErr:     ErrInvalidCoupon,
			wantMessage: "Invalid coupon code",
		},
		{
			name: "scoped to another merchant",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.MerchantID = "m2"
			})},
			req:     Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("10")},
			wantErr: ErrWrongMerchant,
		},
		{
			name: "scoped to same merchant",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.MerchantID = "m1"
			})},
			req:          Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("50")},
			wantDiscount: "5.00",
		},
		{
			name: "not yet valid",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.ValidFrom = &tomorrow
			})},
			req:     Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("10")},
			wantErr: ErrNotYetValid,
		},
		{
			name: "expired",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.ValidUntil = &yesterday
			})},
			req:     Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("10")},
			wantErr: ErrExpired,
		},
		{
			name: "inside window",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.ValidFrom = &yesterday
				c.ValidUntil = &tomorrow
			})},
			req:          Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("20")},
			wantDiscount: "2.00",
		},
		{
			name: "usage cap reached",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.MaxUses = intPtr(3)
				c.UsedCount = 3
			})},
			req:     Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("10")},
			wantErr: ErrExhausted,
		},
		{
			name: "below minimum",
			repo: &mockCouponRepo{coupon: base(func(c *Coupon) {
				c.MinOrderValue = decPtr("25")
			})},
			req:         Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("10")},
			wantErr:     ErrBelowMinimum,
			wantMessage: "Minimum order value for this coupon is 25.00",
		},
		{
			name: "below minimum wins over already used",
			repo: &mockCouponRepo{
				coupon: base(func(c *Coupon) { c.MinOrderValue = decPtr("25") }),
				used:   true,
			},
			req:     Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("10"), CustomerID: "u1"},
			wantErr: ErrBelowMinimum,
		},
		{
			name:    "already used",
			repo:    &mockCouponRepo{coupon: base(nil), used: true},
			req:     Request{Code: "SAVE10", MerchantID: "m1", Subtotal: dec("10"), CustomerID: "u1"},
			wantErr: ErrAlreadyUsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(tt.repo)
			v.now = func() time.Time { return now }

			res, err := v.Validate(context.Background(), tt.req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				if tt.wantMessage != "" {
					assert.Equal(t, tt.wantMessage, verr.Message)
				}
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDiscount, res.Discount.StringFixed(2))
			assert.Equal(t, "c1", res.Coupon.ID)
		})
	}
}

func TestValidator_NormalizesCode(t *testing.T) {
	repo := &mockCouponRepo{}
	v := NewValidator(repo)

	_, _ = v.Validate(context.Background(), Request{Code: "  welcome5 "})
	assert.Equal(t, "WELCOME5", repo.lookedUp)
}

func TestValidator_InfrastructureError(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("lookup", func(t *testing.T) {
		v := NewValidator(&mockCouponRepo{err: boom})
		_, err := v.Validate(context.Background(), Request{Code: "X"})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)

		var verr *ValidationError
		assert.False(t, errors.As(err, &verr))
	})

	t.Run("usage", func(t *testing.T) {
		v := NewValidator(&mockCouponRepo{
			coupon:   &Coupon{ID: "c1", Code: "X", Kind: KindFixed, Value: dec("1"), Active: true},
			usageErr: boom,
		})
		_, err := v.Validate(context.Background(), Request{Code: "X", Subtotal: dec("10")})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})
}
