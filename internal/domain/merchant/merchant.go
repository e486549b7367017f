package merchant

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/schedule"
)

// ErrNotFound is returned when a requested merchant does not exist.
var ErrNotFound = errors.New("merchant not found")

// Merchant is a store taking orders on the marketplace.
type Merchant struct {
	ID    string
	Name  string
	Phone string
	// IsOpen is the stored open flag. It is authoritative only when the
	// merchant has no opening hours configured.
	IsOpen bool
	// OpeningHours is the raw weekday-keyed schedule document.
	OpeningHours []byte
	DeliveryFee  decimal.Decimal
}

// Repository provides merchant storage.
type Repository interface {
	Get(ctx context.Context, id string) (*Merchant, error)
	// ListScheduled returns all merchants with a non-empty opening hours
	// document.
	ListScheduled(ctx context.Context) ([]Merchant, error)
	SetOpen(ctx context.Context, id string, open bool) error
}

// Source tells where an effective open state came from.
type Source string

const (
	SourceManual          Source = "manual"
	SourceSchedule        Source = "schedule"
	SourceInvalidSchedule Source = "invalid_schedule"
)

// Availability is the effective open state of a merchant.
type Availability struct {
	Open        bool
	Source      Source
	NextOpening time.Time
}

// NextOpeningText formats NextOpening as "Tuesday 09:00", or returns an
// empty string when unknown.
func (a Availability) NextOpeningText() string {
	return schedule.Status{Open: a.Open, NextOpening: a.NextOpening}.NextOpeningText()
}

// Availability derives the effective open state at now, which must already
// be in the marketplace's configured location. Without a schedule the stored
// flag wins; a malformed schedule means closed.
func (m *Merchant) Availability(now time.Time) Availability {
	sched, err := schedule.Parse(m.OpeningHours)
	switch {
	case errors.Is(err, schedule.ErrScheduleMissing):
		return Availability{Open: m.IsOpen, Source: SourceManual}
	case err != nil:
		return Availability{Open: false, Source: SourceInvalidSchedule}
	}

	st := sched.Evaluate(now)
	return Availability{
		Open:        st.Open,
		Source:      SourceSchedule,
		NextOpening: st.NextOpening,
	}
}
