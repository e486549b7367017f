package merchant

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Change is one stored flag rewritten by a sweep.
type Change struct {
	MerchantID string
	Name       string
	Before     bool
	After      bool
}

// Summary reports a sweep run.
type Summary struct {
	Checked      int
	UpdatedCount int
	Changes      []Change
}

// Sweeper reconciles the stored open flag of scheduled merchants with their
// opening hours.
type Sweeper struct {
	repo        Repository
	loc         *time.Location
	concurrency int
	now         func() time.Time
}

// NewSweeper creates a Sweeper evaluating schedules in loc and writing at
// most concurrency flags in parallel.
func NewSweeper(repo Repository, loc *time.Location, concurrency int) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{repo: repo, loc: loc, concurrency: concurrency, now: time.Now}
}

// Sweep recomputes the effective open state of every scheduled merchant and
// writes only those whose stored flag differs. Concurrent manual toggles are
// not detected; the last write wins.
func (s *Sweeper) Sweep(ctx context.Context) (*Summary, error) {
	lg := zctx.From(ctx)

	merchants, err := s.repo.ListScheduled(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list scheduled merchants")
	}

	now := s.now().In(s.loc)
	var pending []Change
	for i := range merchants {
		m := &merchants[i]
		av := m.Availability(now)
		if av.Source == SourceInvalidSchedule {
			lg.Warn("Malformed opening hours, treating as closed", zap.String("merchant_id", m.ID))
		}
		if av.Open != m.IsOpen {
			pending = append(pending, Change{
				MerchantID: m.ID,
				Name:       m.Name,
				Before:     m.IsOpen,
				After:      av.Open,
			})
		}
	}

	var (
		mu      sync.Mutex
		applied = make([]Change, 0, len(pending))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ch := range pending {
		g.Go(func() error {
			if err := s.repo.SetOpen(gctx, ch.MerchantID, ch.After); err != nil {
				return errors.Wrapf(err, "set open for merchant %s", ch.MerchantID)
			}
			lg.Info("Merchant open state updated",
				zap.String("merchant_id", ch.MerchantID),
				zap.Bool("before", ch.Before),
				zap.Bool("after", ch.After),
			)
			mu.Lock()
			applied = append(applied, ch)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()

	slices.SortFunc(applied, func(a, b Change) int {
		return strings.Compare(a.MerchantID, b.MerchantID)
	})
	return &Summary{
		Checked:      len(merchants),
		UpdatedCount: len(applied),
		Changes:      applied,
	}, err
}

// Run sweeps every interval until ctx is done. Sweep failures are logged and
// do not stop the loop.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.Sweep(ctx)
			if err != nil {
				lg.Error("Sweep failed", zap.Error(err))
				continue
			}
			lg.Debug("Sweep done",
				zap.Int("checked", summary.Checked),
				zap.Int("updated", summary.UpdatedCount),
			)
		}
	}
}
