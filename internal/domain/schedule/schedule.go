// Package schedule evaluates a merchant's weekly opening hours.
//
// A schedule holds at most one entry per weekday. An entry whose close time
// is not after its open time wraps past midnight: the declaring day covers
// [open, 24:00) and the following day covers [00:00, close), both attributed
// to the declaring day's entry.
package schedule

import (
	"fmt"
	"time"
)

// minutesPerDay is the number of minutes in a civil day.
const minutesPerDay = 24 * 60

// Clock is a time of day expressed in minutes since midnight.
type Clock int

// NewClock returns the Clock for the given hour and minute.
func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Day is a single weekday entry of a schedule.
type Day struct {
	Open    Clock
	Close   Clock
	Enabled bool
}

// Overnight reports whether the window wraps past midnight.
func (d Day) Overnight() bool {
	return d.Close <= d.Open
}

// Schedule maps weekdays to their opening window. Missing weekdays are closed.
type Schedule map[time.Weekday]Day

// Status is the result of evaluating a schedule at an instant.
type Status struct {
	Open bool
	// NextOpening is the next instant the merchant opens. Zero when open or
	// when no enabled day exists.
	NextOpening time.Time
}

// NextOpeningText returns a human-readable next opening, e.g. "Tuesday 09:00",
// or an empty string when none is known.
func (s Status) NextOpeningText() string {
	if s.NextOpening.IsZero() {
		return ""
	}
	return s.NextOpening.Format("Monday 15:04")
}

// Evaluate reports whether the schedule is open at now and, when closed, the
// next opening. The caller must express now in the merchant's location.
func (s Schedule) Evaluate(now time.Time) Status {
	if s.IsOpen(now) {
		return Status{Open: true}
	}
	next, _ := s.NextOpening(now)
	return Status{NextOpening: next}
}

// IsOpen reports whether now falls inside today's window or inside the
// spill-over of yesterday's overnight window.
func (s Schedule) IsOpen(now time.Time) bool {
	minute := minuteOfDay(now)
	today := now.Weekday()

	if d, ok := s[today]; ok && d.Enabled {
		if d.Overnight() {
			if minute >= d.Open {
				return true
			}
		} else if minute >= d.Open && minute < d.Close {
			return true
		}
	}

	yesterday := (today + 6) % 7
	if d, ok := s[yesterday]; ok && d.Enabled && d.Overnight() && minute < d.Close {
		return true
	}

	return false
}

// NextOpening scans today and the following seven days for the first enabled
// window that opens after now.
func (s Schedule) NextOpening(now time.Time) (time.Time, bool) {
	for offset := 0; offset <= 7; offset++ {
		day := now.AddDate(0, 0, offset)
		d, ok := s[day.Weekday()]
		if !ok || !d.Enabled {
			continue
		}
		opensAt := time.Date(day.Year(), day.Month(), day.Day(),
			int(d.Open)/60, int(d.Open)%60, 0, 0, now.Location())
		if opensAt.After(now) {
			return opensAt, true
		}
	}
	return time.Time{}, false
}

func minuteOfDay(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}
