package coupon

import (
	"github.com/shopspring/decimal"
)

// Reason identifies why a coupon was rejected. Values are stable and exposed
// to API clients.
type Reason string

const (
	ReasonInvalidCoupon Reason = "invalid_coupon"
	ReasonWrongMerchant Reason = "wrong_merchant"
	ReasonNotYetValid   Reason = "not_yet_valid"
	ReasonExpired       Reason = "expired"
	ReasonExhausted     Reason = "exhausted"
	ReasonBelowMinimum  Reason = "below_minimum"
	ReasonAlreadyUsed   Reason = "already_used"
)

// ValidationError is a recoverable coupon rejection. Message is shown to the
// end user verbatim.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is matches any ValidationError with the same Reason, so sentinels work with
// errors.Is regardless of message.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

var (
	ErrInvalidCoupon = &ValidationError{Reason: ReasonInvalidCoupon, Message: "Invalid coupon code"}
	ErrWrongMerchant = &ValidationError{Reason: ReasonWrongMerchant, Message: "This coupon is not valid for this store"}
	ErrNotYetValid   = &ValidationError{Reason: ReasonNotYetValid, Message: "This coupon is not valid yet"}
	ErrExpired       = &ValidationError{Reason: ReasonExpired, Message: "This coupon has expired"}
	ErrExhausted     = &ValidationError{Reason: ReasonExhausted, Message: "This coupon has reached its usage limit"}
	ErrBelowMinimum  = &ValidationError{Reason: ReasonBelowMinimum, Message: "Order is below the coupon minimum"}
	ErrAlreadyUsed   = &ValidationError{Reason: ReasonAlreadyUsed, Message: "You have already used this coupon"}
)

func belowMinimum(minimum decimal.Decimal) *ValidationError {
	return &ValidationError{
		Reason:  ReasonBelowMinimum,
		Message: "Minimum order value for this coupon is " + minimum.StringFixed(2),
	}
}
