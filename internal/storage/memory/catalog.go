package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/product"
)

var (
	_ merchant.Repository = (*MerchantRepository)(nil)
	_ product.Repository  = (*ProductRepository)(nil)
	_ auth.Repository     = (*APIKeyRepository)(nil)
)

// MerchantRepository implements merchant.Repository.
type MerchantRepository struct {
	s *Store
}

func (r *MerchantRepository) Get(_ context.Context, id string) (*merchant.Merchant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.merchants[id]
	if !ok {
		return nil, merchant.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MerchantRepository) ListScheduled(_ context.Context) ([]merchant.Merchant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]merchant.Merchant, 0, len(r.s.merchants))
	for _, m := range r.s.merchants {
		if len(m.OpeningHours) > 0 {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b merchant.Merchant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *MerchantRepository) SetOpen(_ context.Context, id string, open bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.merchants[id]
	if !ok {
		return merchant.ErrNotFound
	}
	m.IsOpen = open
	return nil
}

// ProductRepository implements product.Repository.
type ProductRepository struct {
	s *Store
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *ProductRepository) GetByIDs(_ context.Context, merchantID string, ids []string) ([]product.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok && p.MerchantID == merchantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// APIKeyRepository implements auth.Repository.
type APIKeyRepository struct {
	s *Store
}

func (r *APIKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	k, ok := r.s.apiKeys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}
