package merchant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overnightMonday = `{"monday":{"open":"22:00","close":"02:00","enabled":true}}`

// 2025-06-16 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, 6, day, hour, minute, 0, 0, time.UTC)
}

func TestMerchant_Availability(t *testing.T) {
	tests := []struct {
		name       string
		merchant   Merchant
		now        time.Time
		wantOpen   bool
		wantSource Source
	}{
		{
			name:       "no schedule uses manual open flag",
			merchant:   Merchant{IsOpen: true},
			now:        at(16, 12, 0),
			wantOpen:   true,
			wantSource: SourceManual,
		},
		{
			name:       "no schedule uses manual closed flag",
			merchant:   Merchant{IsOpen: false, OpeningHours: []byte(`{}`)},
			now:        at(16, 12, 0),
			wantOpen:   false,
			wantSource: SourceManual,
		},
		{
			name:       "schedule overrides stored flag",
			merchant:   Merchant{IsOpen: false, OpeningHours: []byte(overnightMonday)},
			now:        at(16, 23, 30),
			wantOpen:   true,
			wantSource: SourceSchedule,
		},
		{
			name:       "overnight spill into tuesday",
			merchant:   Merchant{IsOpen: false, OpeningHours: []byte(overnightMonday)},
			now:        at(17, 1, 0),
			wantOpen:   true,
			wantSource: SourceSchedule,
		},
		{
			name:       "closed after overnight window",
			merchant:   Merchant{IsOpen: true, OpeningHours: []byte(overnightMonday)},
			now:        at(17, 3, 0),
			wantOpen:   false,
			wantSource: SourceSchedule,
		},
		{
			name:       "close at 24:00 keeps the evening open",
			merchant:   Merchant{IsOpen: false, OpeningHours: []byte(`{"monday":{"open":"09:00","close":"24:00","enabled":true}}`)},
			now:        at(16, 12, 0),
			wantOpen:   true,
			wantSource: SourceSchedule,
		},
		{
			name:       "malformed schedule is closed",
			merchant:   Merchant{IsOpen: true, OpeningHours: []byte(`{"monday":{"open":"25:99"}`)},
			now:        at(16, 12, 0),
			wantOpen:   false,
			wantSource: SourceInvalidSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			av := tt.merchant.Availability(tt.now)
			assert.Equal(t, tt.wantOpen, av.Open)
			assert.Equal(t, tt.wantSource, av.Source)
		})
	}
}

func TestMerchant_AvailabilityNextOpening(t *testing.T) {
	m := Merchant{OpeningHours: []byte(overnightMonday)}
	av := m.Availability(at(17, 3, 0))
	require.False(t, av.Open)
	assert.Equal(t, "Monday 22:00", av.NextOpeningText())
	assert.Equal(t, at(23, 22, 0), av.NextOpening)
}

type mockRepo struct {
	mu        sync.Mutex
	merchants []Merchant
	listErr   error
	setErr    error
	writes    map[string]bool
}

func (m *mockRepo) Get(_ context.Context, id string) (*Merchant, error) {
	for i := range m.merchants {
		if m.merchants[i].ID == id {
			return &m.merchants[i], nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListScheduled(_ context.Context) ([]Merchant, error) {
	return m.merchants, m.listErr
}

func (m *mockRepo) SetOpen(_ context.Context, id string, open bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.writes == nil {
		m.writes = map[string]bool{}
	}
	m.writes[id] = open
	return nil
}

func TestSweeper_Sweep(t *testing.T) {
	repo := &mockRepo{merchants: []Merchant{
		{ID: "m1", Name: "Night Owl", IsOpen: false, OpeningHours: []byte(overnightMonday)},
		{ID: "m2", Name: "Already Open", IsOpen: true, OpeningHours: []byte(overnightMonday)},
		{ID: "m3", Name: "Broken", IsOpen: true, OpeningHours: []byte(`not json`)},
		{ID: "m4", Name: "Lunch", IsOpen: true, OpeningHours: []byte(`{"monday":{"open":"11:00","close":"15:00","enabled":true}}`)},
	}}
	s := NewSweeper(repo, time.UTC, 2)
	s.now = func() time.Time { return at(16, 23, 30) }

	summary, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Checked)
	assert.Equal(t, 3, summary.UpdatedCount)
	assert.Equal(t, []Change{
		{MerchantID: "m1", Name: "Night Owl", Before: false, After: true},
		{MerchantID: "m3", Name: "Broken", Before: true, After: false},
		{MerchantID: "m4", Name: "Lunch", Before: true, After: false},
	}, summary.Changes)
	assert.Equal(t, map[string]bool{"m1": true, "m3": false, "m4": false}, repo.writes)
}

func TestSweeper_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	repo := &mockRepo{merchants: []Merchant{
		{ID: "m1", IsOpen: false, OpeningHours: []byte(`{"monday":{"open":"09:00","close":"17:00","enabled":true}}`)},
	}}
	s := NewSweeper(repo, loc, 1)
	// 07:00 UTC is 10:00 in the merchant's location.
	s.now = func() time.Time { return at(16, 7, 0) }

	summary, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.UpdatedCount)
	assert.True(t, repo.writes["m1"])
}

func TestSweeper_NothingToUpdate(t *testing.T) {
	repo := &mockRepo{merchants: []Merchant{
		{ID: "m1", IsOpen: true, OpeningHours: []byte(overnightMonday)},
	}}
	s := NewSweeper(repo, time.UTC, 4)
	s.now = func() time.Time { return at(16, 23, 0) }

	summary, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Zero(t, summary.UpdatedCount)
	assert.Empty(t, summary.Changes)
	assert.Nil(t, repo.writes)
}

func TestSweeper_Errors(t *testing.T) {
	boom := errors.New("db down")

	t.Run("list", func(t *testing.T) {
		s := NewSweeper(&mockRepo{listErr: boom}, time.UTC, 1)
		_, err := s.Sweep(context.Background())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("write", func(t *testing.T) {
		repo := &mockRepo{
			merchants: []Merchant{{ID: "m1", IsOpen: true, OpeningHours: []byte(`bad`)}},
			setErr:    boom,
		}
		s := NewSweeper(repo, time.UTC, 1)
		summary, err := s.Sweep(context.Background())
		assert.ErrorIs(t, err, boom)
		require.NotNil(t, summary)
		assert.Zero(t, summary.UpdatedCount)
	})
}
