package memory

import (
	"context"
	"slices"

	"github.com/xenking/marketplace/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository.
type OrderRepository struct {
	s *Store
}

// Create stores the order. The store stays locked while redeem runs, and its
// usage writes are applied only if it succeeds.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, redeem order.RedeemFunc) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.byKey[o.IdempotencyKey]; ok {
		return order.ErrDuplicateKey
	}

	tx := newUsageTx(r.s)
	if redeem != nil {
		if err := redeem(ctx, tx); err != nil {
			return err
		}
	}

	r.s.orders[o.ID] = cloneOrder(o)
	r.s.byKey[o.IdempotencyKey] = o.ID
	tx.commit()
	return nil
}

func (r *OrderRepository) FindByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byKey[key]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(r.s.orders[id]), nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) UpdateStatus(_ context.Context, id string, from, to order.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrStatusConflict
	}
	o.Status = to
	return nil
}

// Count returns the number of stored orders.
func (r *OrderRepository) Count() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.orders)
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	if o.Address != nil {
		addr := *o.Address
		cp.Address = &addr
	}
	return &cp
}
