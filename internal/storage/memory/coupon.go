package memory

import (
	"context"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Catalog    = (*CouponRepository)(nil)
	_ coupon.UsageStore = (*CouponRepository)(nil)
)

// CouponRepository implements the coupon read side, management and the
// non-transactional usage store.
type CouponRepository struct {
	s *Store
}

func (r *CouponRepository) FindActiveByCode(_ context.Context, code, merchantID string) (*coupon.Coupon, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var (
		best     *coupon.Coupon
		bestRank = 3
	)
	for _, c := range r.s.coupons {
		if !c.Active || c.Code != code {
			continue
		}
		rank := 2
		switch {
		case c.MerchantID == merchantID && merchantID != "":
			rank = 0
		case c.Global():
			rank = 1
		}
		if rank < bestRank {
			best, bestRank = c, rank
		}
	}
	if best == nil {
		return nil, coupon.ErrInvalidCoupon
	}
	cp := *best
	return &cp, nil
}

func (r *CouponRepository) HasUsage(_ context.Context, couponID, customerID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.usages[usageKey(couponID, customerID)]
	return ok, nil
}

func (r *CouponRepository) Create(_ context.Context, c *coupon.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.coupons {
		if existing.Code == c.Code && existing.MerchantID == c.MerchantID {
			return coupon.ErrDuplicateCode
		}
	}
	cp := *c
	r.s.coupons[c.ID] = &cp
	return nil
}

func (r *CouponRepository) Get(_ context.Context, id string) (*coupon.Coupon, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.coupons[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CouponRepository) SetActive(_ context.Context, id string, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.coupons[id]
	if !ok {
		return coupon.ErrNotFound
	}
	c.Active = active
	return nil
}

func (r *CouponRepository) Update(_ context.Context, id string, t coupon.Terms) (*coupon.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.coupons[id]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	for _, existing := range r.s.coupons {
		if existing.ID != id && existing.Code == c.Code && existing.MerchantID == t.MerchantID {
			return nil, coupon.ErrDuplicateCode
		}
	}
	c.MerchantID = t.MerchantID
	c.Kind = t.Kind
	c.Value = t.Value
	c.MinOrderValue = t.MinOrderValue
	c.MaxUses = t.MaxUses
	c.ValidFrom = t.ValidFrom
	c.ValidUntil = t.ValidUntil
	cp := *c
	return &cp, nil
}

func (r *CouponRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.coupons[id]; !ok {
		return coupon.ErrNotFound
	}
	for _, o := range r.s.orders {
		if o.CouponID == id {
			o.CouponID = ""
		}
	}
	for k, u := range r.s.usages {
		if u.CouponID == id {
			delete(r.s.usages, k)
		}
	}
	delete(r.s.coupons, id)
	return nil
}

// Each usage operation below is its own short transaction, so a
// read-then-write sequence across calls can interleave with other writers.

func (r *CouponRepository) UsedCount(ctx context.Context, couponID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return (&usageTx{s: r.s}).UsedCount(ctx, couponID)
}

func (r *CouponRepository) SetUsedCount(ctx context.Context, couponID string, count int) error {
	return r.inTx(func(tx *usageTx) error { return tx.SetUsedCount(ctx, couponID, count) })
}

func (r *CouponRepository) IncrementUsedCount(ctx context.Context, couponID string) error {
	return r.inTx(func(tx *usageTx) error { return tx.IncrementUsedCount(ctx, couponID) })
}

func (r *CouponRepository) InsertUsage(ctx context.Context, rec coupon.UsageRecord) error {
	return r.inTx(func(tx *usageTx) error { return tx.InsertUsage(ctx, rec) })
}

func (r *CouponRepository) inTx(fn func(tx *usageTx) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx := newUsageTx(r.s)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// usageTx buffers usage writes against a locked Store until commit.
type usageTx struct {
	s      *Store
	counts map[string]int
	usages map[string]coupon.UsageRecord
}

func newUsageTx(s *Store) *usageTx {
	return &usageTx{
		s:      s,
		counts: make(map[string]int),
		usages: make(map[string]coupon.UsageRecord),
	}
}

func (t *usageTx) UsedCount(_ context.Context, couponID string) (int, error) {
	if n, ok := t.counts[couponID]; ok {
		return n, nil
	}
	c, ok := t.s.coupons[couponID]
	if !ok {
		return 0, coupon.ErrNotFound
	}
	return c.UsedCount, nil
}

func (t *usageTx) SetUsedCount(ctx context.Context, couponID string, count int) error {
	if _, err := t.UsedCount(ctx, couponID); err != nil {
		return err
	}
	t.counts[couponID] = count
	return nil
}

func (t *usageTx) IncrementUsedCount(ctx context.Context, couponID string) error {
	n, err := t.UsedCount(ctx, couponID)
	if err != nil {
		return err
	}
	if limit := t.s.coupons[couponID].MaxUses; limit != nil && n >= *limit {
		return coupon.ErrExhausted
	}
	t.counts[couponID] = n + 1
	return nil
}

func (t *usageTx) InsertUsage(_ context.Context, rec coupon.UsageRecord) error {
	key := usageKey(rec.CouponID, rec.CustomerID)
	if _, ok := t.s.usages[key]; ok {
		return coupon.ErrAlreadyUsed
	}
	if _, ok := t.usages[key]; ok {
		return coupon.ErrAlreadyUsed
	}
	t.usages[key] = rec
	return nil
}

func (t *usageTx) commit() {
	for id, n := range t.counts {
		t.s.coupons[id].UsedCount = n
	}
	for k, u := range t.usages {
		t.s.usages[k] = u
	}
}
