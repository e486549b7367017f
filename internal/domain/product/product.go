package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a read-only catalog item sold by one merchant.
type Product struct {
	ID         string
	MerchantID string
	Name       string
	Price      decimal.Decimal
	Category   string
	Available  bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products of merchantID matching ids. Unknown ids
	// and products of other merchants are silently skipped.
	GetByIDs(ctx context.Context, merchantID string, ids []string) ([]Product, error)
}
