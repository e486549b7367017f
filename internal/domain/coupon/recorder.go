package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// RecordMode selects how a redemption updates the usage counter.
type RecordMode int

const (
	// RecordAtomic increments the counter with a guarded compare-and-swap and
	// relies on a unique (coupon, customer) constraint for the usage record.
	RecordAtomic RecordMode = iota
	// RecordReadThenWrite reads the counter and writes count+1. Concurrent
	// redemptions can read the same value and under-count.
	RecordReadThenWrite
)

// UsageStore persists redemption side effects.
type UsageStore interface {
	UsedCount(ctx context.Context, couponID string) (int, error)
	SetUsedCount(ctx context.Context, couponID string, count int) error
	// IncrementUsedCount adds one use unless the coupon's max_uses is already
	// reached, in which case it returns ErrExhausted.
	IncrementUsedCount(ctx context.Context, couponID string) error
	// InsertUsage stores a usage record. It returns ErrAlreadyUsed when the
	// (coupon, customer) pair already has one.
	InsertUsage(ctx context.Context, rec UsageRecord) error
}

// Redemption describes a coupon applied to a persisted order.
type Redemption struct {
	CouponID   string
	CustomerID string
	OrderID    string
	At         time.Time
}

// Recorder applies a redemption to a UsageStore: it bumps the coupon's usage
// counter and writes the usage record, in that order.
type Recorder struct {
	store UsageStore
	mode  RecordMode
}

// NewRecorder returns a Recorder writing to store in the given mode.
func NewRecorder(store UsageStore, mode RecordMode) *Recorder {
	return &Recorder{store: store, mode: mode}
}

// Record applies the redemption. Validation failures (ErrExhausted,
// ErrAlreadyUsed) are returned unwrapped.
func (r *Recorder) Record(ctx context.Context, red Redemption) error {
	switch r.mode {
	case RecordAtomic:
		if err := r.store.IncrementUsedCount(ctx, red.CouponID); err != nil {
			if errors.Is(err, ErrExhausted) {
				return ErrExhausted
			}
			return errors.Wrap(err, "increment used count")
		}
	case RecordReadThenWrite:
		count, err := r.store.UsedCount(ctx, red.CouponID)
		if err != nil {
			return errors.Wrap(err, "read used count")
		}
		if err := r.store.SetUsedCount(ctx, red.CouponID, count+1); err != nil {
			return errors.Wrap(err, "write used count")
		}
	default:
		return errors.Errorf("unknown record mode %d", r.mode)
	}

	at := red.At
	if at.IsZero() {
		at = time.Now()
	}
	if err := r.store.InsertUsage(ctx, UsageRecord{
		CouponID:   red.CouponID,
		CustomerID: red.CustomerID,
		OrderID:    red.OrderID,
		UsedAt:     at,
	}); err != nil {
		if errors.Is(err, ErrAlreadyUsed) {
			return ErrAlreadyUsed
		}
		return errors.Wrap(err, "insert usage record")
	}
	return nil
}
