// Package memory implements the repositories of the service in process
// memory for tests. Its Locker also serves the API server when no Redis is
// configured.
package memory

import (
	"sync"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
)

// Store keeps all entities in maps guarded by one lock. Repositories are
// views over a shared Store so an order transaction can touch coupon usage.
type Store struct {
	mu sync.RWMutex

	merchants map[string]*merchant.Merchant
	products  map[string]*product.Product
	coupons   map[string]*coupon.Coupon
	// usages is keyed by usageKey(couponID, customerID).
	usages  map[string]coupon.UsageRecord
	orders  map[string]*order.Order
	byKey   map[string]string
	apiKeys map[string]*auth.APIKeyInfo
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		merchants: make(map[string]*merchant.Merchant),
		products:  make(map[string]*product.Product),
		coupons:   make(map[string]*coupon.Coupon),
		usages:    make(map[string]coupon.UsageRecord),
		orders:    make(map[string]*order.Order),
		byKey:     make(map[string]string),
		apiKeys:   make(map[string]*auth.APIKeyInfo),
	}
}

func usageKey(couponID, customerID string) string {
	return couponID + "\x00" + customerID
}

// Merchants returns the merchant repository.
func (s *Store) Merchants() *MerchantRepository { return &MerchantRepository{s: s} }

// Products returns the product repository.
func (s *Store) Products() *ProductRepository { return &ProductRepository{s: s} }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *CouponRepository { return &CouponRepository{s: s} }

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeyRepository { return &APIKeyRepository{s: s} }

// PutMerchant inserts or replaces a merchant.
func (s *Store) PutMerchant(m merchant.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[m.ID] = &m
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

// PutAPIKey inserts or replaces an API key.
func (s *Store) PutAPIKey(k auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[k.KeyHash] = &k
}
