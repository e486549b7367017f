package coupon

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUsageStore keeps a single coupon's counter. When readBarrier is set,
// every UsedCount call blocks until all expected readers have read, which
// forces the interleaving read, read, write, write.
type fakeUsageStore struct {
	mu       sync.Mutex
	count    int
	maxUses  *int
	usages   map[string]UsageRecord
	writeErr error

	readBarrier *sync.WaitGroup
}

func newFakeUsageStore(maxUses *int) *fakeUsageStore {
	return &fakeUsageStore{maxUses: maxUses, usages: map[string]UsageRecord{}}
}

func (s *fakeUsageStore) UsedCount(_ context.Context, _ string) (int, error) {
	s.mu.Lock()
	n := s.count
	s.mu.Unlock()
	if s.readBarrier != nil {
		s.readBarrier.Done()
		s.readBarrier.Wait()
	}
	return n, nil
}

func (s *fakeUsageStore) SetUsedCount(_ context.Context, _ string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.count = count
	return nil
}

func (s *fakeUsageStore) IncrementUsedCount(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.maxUses != nil && s.count >= *s.maxUses {
		return ErrExhausted
	}
	s.count++
	return nil
}

func (s *fakeUsageStore) InsertUsage(_ context.Context, rec UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.CouponID + "/" + rec.CustomerID
	if _, ok := s.usages[key]; ok {
		return ErrAlreadyUsed
	}
	s.usages[key] = rec
	return nil
}

func TestRecorder_Atomic(t *testing.T) {
	store := newFakeUsageStore(intPtr(2))
	r := NewRecorder(store, RecordAtomic)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, Redemption{CouponID: "c1", CustomerID: "u1", OrderID: "o1"}))
	require.NoError(t, r.Record(ctx, Redemption{CouponID: "c1", CustomerID: "u2", OrderID: "o2"}))

	err := r.Record(ctx, Redemption{CouponID: "c1", CustomerID: "u3", OrderID: "o3"})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 2, store.count)
	assert.Len(t, store.usages, 2)
	assert.False(t, store.usages["c1/u1"].UsedAt.IsZero())
}

func TestRecorder_AtomicConcurrentNeverExceedsCap(t *testing.T) {
	const maxUses = 5
	store := newFakeUsageStore(intPtr(maxUses))
	r := NewRecorder(store, RecordAtomic)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Record(context.Background(), Redemption{
				CouponID:   "c1",
				CustomerID: fmt.Sprintf("u%d", i),
				OrderID:    fmt.Sprintf("o%d", i),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrExhausted)
		}()
	}
	wg.Wait()

	assert.Equal(t, maxUses, succeeded)
	assert.Equal(t, maxUses, store.count)
	assert.Len(t, store.usages, maxUses)
}

func TestRecorder_ReadThenWriteUnderCounts(t *testing.T) {
	store := newFakeUsageStore(nil)
	store.readBarrier = &sync.WaitGroup{}
	store.readBarrier.Add(2)
	r := NewRecorder(store, RecordReadThenWrite)

	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Record(context.Background(), Redemption{
				CouponID:   "c1",
				CustomerID: fmt.Sprintf("u%d", i),
			}))
		}()
	}
	wg.Wait()

	assert.Len(t, store.usages, 2)
	assert.Equal(t, 1, store.count, "both redemptions read 0 and wrote 1")
}

func TestRecorder_DuplicateUsage(t *testing.T) {
	store := newFakeUsageStore(nil)
	r := NewRecorder(store, RecordAtomic)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, Redemption{CouponID: "c1", CustomerID: "u1"}))
	err := r.Record(ctx, Redemption{CouponID: "c1", CustomerID: "u1"})
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestRecorder_StoreFailure(t *testing.T) {
	boom := errors.New("disk full")
	for _, mode := range []RecordMode{RecordAtomic, RecordReadThenWrite} {
		store := newFakeUsageStore(nil)
		store.writeErr = boom
		err := NewRecorder(store, mode).Record(context.Background(), Redemption{CouponID: "c1", CustomerID: "u1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, store.usages)
	}
}
