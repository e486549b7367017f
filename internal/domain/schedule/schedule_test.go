package schedule

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-06-16 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, 6, day, hour, minute, 0, 0, time.UTC)
}

func TestSchedule_IsOpen(t *testing.T) {
	overnight := Schedule{
		time.Monday: {Open: NewClock(22, 0), Close: NewClock(2, 0), Enabled: true},
	}
	regular := Schedule{
		time.Monday:  {Open: NewClock(9, 0), Close: NewClock(18, 0), Enabled: true},
		time.Tuesday: {Open: NewClock(9, 0), Close: NewClock(18, 0), Enabled: false},
	}
	untilMidnight := Schedule{
		time.Monday: {Open: NewClock(9, 0), Close: NewClock(24, 0), Enabled: true},
	}

	tests := []struct {
		name     string
		schedule Schedule
		now      time.Time
		want     bool
	}{
		{name: "overnight monday 23:30", schedule: overnight, now: at(16, 23, 30), want: true},
		{name: "overnight spill tuesday 01:00", schedule: overnight, now: at(17, 1, 0), want: true},
		{name: "overnight tuesday 03:00", schedule: overnight, now: at(17, 3, 0), want: false},
		{name: "overnight close is exclusive", schedule: overnight, now: at(17, 2, 0), want: false},
		{name: "overnight monday morning belongs to sunday", schedule: overnight, now: at(16, 1, 0), want: false},
		{name: "overnight monday before open", schedule: overnight, now: at(16, 21, 59), want: false},
		{name: "regular inside window", schedule: regular, now: at(16, 12, 0), want: true},
		{name: "regular open is inclusive", schedule: regular, now: at(16, 9, 0), want: true},
		{name: "regular close is exclusive", schedule: regular, now: at(16, 18, 0), want: false},
		{name: "disabled day", schedule: regular, now: at(17, 12, 0), want: false},
		{name: "missing day", schedule: regular, now: at(18, 12, 0), want: false},
		{name: "until midnight 23:59", schedule: untilMidnight, now: at(16, 23, 59), want: true},
		{name: "until midnight does not spill", schedule: untilMidnight, now: at(17, 0, 0), want: false},
		{name: "empty schedule", schedule: Schedule{}, now: at(16, 12, 0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.IsOpen(tt.now))
		})
	}
}

func TestSchedule_DisabledOvernightDoesNotSpill(t *testing.T) {
	s := Schedule{
		time.Monday: {Open: NewClock(22, 0), Close: NewClock(2, 0), Enabled: false},
	}
	assert.False(t, s.IsOpen(at(17, 1, 0)))
}

func TestSchedule_Evaluate_NextOpening(t *testing.T) {
	s := Schedule{
		time.Monday:    {Open: NewClock(9, 0), Close: NewClock(18, 0), Enabled: true},
		time.Wednesday: {Open: NewClock(10, 30), Close: NewClock(14, 0), Enabled: true},
	}

	t.Run("later today", func(t *testing.T) {
		st := s.Evaluate(at(16, 7, 0))
		require.False(t, st.Open)
		assert.Equal(t, at(16, 9, 0), st.NextOpening)
		assert.Equal(t, "Monday 09:00", st.NextOpeningText())
	})

	t.Run("after today's window skips to next enabled day", func(t *testing.T) {
		st := s.Evaluate(at(16, 19, 0))
		require.False(t, st.Open)
		assert.Equal(t, at(18, 10, 30), st.NextOpening)
		assert.Equal(t, "Wednesday 10:30", st.NextOpeningText())
	})

	t.Run("wraps around the week", func(t *testing.T) {
		st := s.Evaluate(at(18, 15, 0))
		require.False(t, st.Open)
		assert.Equal(t, at(23, 9, 0), st.NextOpening)
	})

	t.Run("open has no next opening", func(t *testing.T) {
		st := s.Evaluate(at(16, 10, 0))
		assert.True(t, st.Open)
		assert.True(t, st.NextOpening.IsZero())
		assert.Empty(t, st.NextOpeningText())
	})

	t.Run("nothing enabled", func(t *testing.T) {
		st := Schedule{time.Monday: {Enabled: false}}.Evaluate(at(16, 10, 0))
		assert.False(t, st.Open)
		assert.Empty(t, st.NextOpeningText())
	})
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte(`{"monday":{"open":"22:00","close":"02:00","enabled":true},
		"tuesday":{"open":"09:00","close":"17:30","enabled":false,"note":"ignored"}}`))
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, Day{Open: NewClock(22, 0), Close: NewClock(2, 0), Enabled: true}, s[time.Monday])
	assert.True(t, s[time.Monday].Overnight())
	assert.Equal(t, Day{Open: NewClock(9, 0), Close: NewClock(17, 30)}, s[time.Tuesday])

	assert.True(t, s.IsOpen(at(17, 1, 0)))
}

func TestParse_CloseAtMidnight(t *testing.T) {
	s, err := Parse([]byte(`{"monday":{"open":"09:00","close":"24:00","enabled":true}}`))
	require.NoError(t, err)
	assert.Equal(t, Day{Open: NewClock(9, 0), Close: NewClock(24, 0), Enabled: true}, s[time.Monday])
	assert.False(t, s[time.Monday].Overnight())
	assert.True(t, s.IsOpen(at(16, 12, 0)))
	assert.True(t, s.IsOpen(at(16, 23, 59)))
	assert.Equal(t, `{"monday":{"open":"09:00","close":"24:00","enabled":true}}`, string(Encode(s)))

	_, err = Parse([]byte(`{"monday":{"open":"24:00","close":"02:00","enabled":true}}`))
	assert.ErrorIs(t, err, ErrScheduleMalformed, "24:00 is only a closing time")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "empty", raw: "", wantErr: ErrScheduleMissing},
		{name: "null", raw: "null", wantErr: ErrScheduleMissing},
		{name: "empty object", raw: "{}", wantErr: ErrScheduleMissing},
		{name: "array", raw: "[]", wantErr: ErrScheduleMalformed},
		{name: "unknown weekday", raw: `{"funday":{"open":"09:00","close":"10:00","enabled":true}}`, wantErr: ErrScheduleMalformed},
		{name: "bad clock", raw: `{"monday":{"open":"9am","close":"10:00","enabled":true}}`, wantErr: ErrScheduleMalformed},
		{name: "enabled without close", raw: `{"monday":{"open":"09:00","enabled":true}}`, wantErr: ErrScheduleMalformed},
		{name: "truncated", raw: `{"monday":{"open":"09:00"`, wantErr: ErrScheduleMalformed},
		{name: "entry not an object", raw: `{"monday":true}`, wantErr: ErrScheduleMalformed},
		{name: "trailing data", raw: `{"monday":{"open":"09:00","close":"10:00","enabled":true}} trailing`, wantErr: ErrScheduleMalformed},
		{name: "second object", raw: `{} {}`, wantErr: ErrScheduleMalformed},
		{name: "garbage starting like null", raw: "not json", wantErr: ErrScheduleMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	s := Schedule{
		time.Friday: {Open: NewClock(18, 0), Close: NewClock(1, 0), Enabled: true},
	}
	got, err := Parse(Encode(s))
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
