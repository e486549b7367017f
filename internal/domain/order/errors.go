package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order submission and lookup.
var (
	ErrNotFound               = errors.New("order not found")
	ErrDuplicateKey           = errors.New("order with this idempotency key already exists")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIdempotencyKeyReused   = errors.New("idempotency key belongs to another customer")
	ErrSubmissionInProgress   = errors.New("order submission already in progress")
	ErrMerchantClosed         = errors.New("merchant is closed")
	ErrEmptyItems             = errors.New("items required")
	ErrInvalidFulfillment     = errors.New("fulfillment must be delivery or pickup")
	ErrAddressRequired        = errors.New("delivery address required")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrChangeRequiresCash     = errors.New("change is only given for cash payments")
	ErrCustomerRequired       = errors.New("customer name and phone required")
	// ErrPersistenceFailure wraps storage failures while creating an order.
	// The submission may be retried with the same idempotency key.
	ErrPersistenceFailure = errors.New("order could not be saved")
	ErrStatusConflict     = errors.New("order status changed concurrently")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// ProductNotFoundError indicates a requested product does not exist for the
// merchant.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// ProductUnavailableError indicates a product exists but is not sold now.
type ProductUnavailableError struct {
	ProductID string
	Name      string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s (%s) is unavailable", e.ProductID, e.Name)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}
