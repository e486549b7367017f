package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns the discount a coupon of the given kind and value grants
// on subtotal. The result is rounded to cents and kept within [0, subtotal],
// so a total can never go negative.
func Calculate(kind Kind, value, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch kind {
	case KindPercentage:
		amount = subtotal.Mul(value).Div(hundred)
	case KindFixed:
		amount = decimal.Min(value, subtotal)
	default:
		return decimal.Zero, errors.Errorf("unsupported discount kind: %q", kind)
	}

	amount = amount.Round(2)
	if amount.IsNegative() {
		return decimal.Zero, nil
	}
	if amount.GreaterThan(subtotal) {
		return subtotal, nil
	}
	return amount, nil
}
