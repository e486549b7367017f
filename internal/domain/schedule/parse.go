package schedule

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

var (
	// ErrScheduleMissing is returned when no schedule is configured at all.
	ErrScheduleMissing = errors.New("schedule missing")
	// ErrScheduleMalformed is returned when stored schedule data cannot be
	// interpreted. Callers treat it as closed.
	ErrScheduleMalformed = errors.New("schedule malformed")
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parse decodes the stored opening_hours document:
//
//	{"monday": {"open": "22:00", "close": "02:00", "enabled": true}, ...}
//
// Keys are lowercase weekday names. It returns ErrScheduleMissing for an
// empty, null or {} document and an error wrapping ErrScheduleMalformed for
// anything it cannot interpret.
func Parse(raw []byte) (Schedule, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, ErrScheduleMissing
	}

	d := jx.DecodeBytes(raw)
	switch d.Next() {
	case jx.Null:
		if err := d.Null(); err != nil {
			return nil, errors.Wrap(ErrScheduleMalformed, err.Error())
		}
		return nil, ErrScheduleMissing
	case jx.Object:
	default:
		return nil, errors.Wrap(ErrScheduleMalformed, "expected object")
	}

	s := make(Schedule, 7)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		wd, ok := weekdays[strings.ToLower(key)]
		if !ok {
			return errors.Errorf("unknown weekday %q", key)
		}
		day, err := decodeDay(d)
		if err != nil {
			return errors.Wrapf(err, "%s", key)
		}
		s[wd] = day
		return nil
	}); err != nil {
		return nil, errors.Wrap(ErrScheduleMalformed, err.Error())
	}
	if d.Next() != jx.Invalid {
		return nil, errors.Wrap(ErrScheduleMalformed, "trailing data after object")
	}

	if len(s) == 0 {
		return nil, ErrScheduleMissing
	}
	return s, nil
}

func decodeDay(d *jx.Decoder) (Day, error) {
	var (
		day               Day
		hasOpen, hasClose bool
	)
	if d.Next() != jx.Object {
		return Day{}, errors.New("entry must be an object")
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "open":
			v, err := d.Str()
			if err != nil {
				return err
			}
			day.Open, err = ParseClock(v)
			hasOpen = err == nil
			return err
		case "close":
			v, err := d.Str()
			if err != nil {
				return err
			}
			day.Close, err = parseCloseClock(v)
			hasClose = err == nil
			return err
		case "enabled":
			v, err := d.Bool()
			if err != nil {
				return err
			}
			day.Enabled = v
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Day{}, err
	}
	if day.Enabled && (!hasOpen || !hasClose) {
		return Day{}, errors.New("enabled entry needs open and close")
	}
	return day, nil
}

// ParseClock parses an "HH:MM" time of day. "24:00" is rejected.
func ParseClock(v string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, errors.Wrapf(err, "parse clock %q", v)
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

// parseCloseClock is ParseClock that also accepts "24:00" as end of day.
func parseCloseClock(v string) (Clock, error) {
	if strings.TrimSpace(v) == "24:00" {
		return minutesPerDay, nil
	}
	return ParseClock(v)
}

// Encode renders a schedule back to its stored JSON form.
func Encode(s Schedule) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		for name, wd := range orderedWeekdays() {
			day, ok := s[wd]
			if !ok {
				continue
			}
			e.Field(name, func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("open", func(e *jx.Encoder) { e.Str(day.Open.String()) })
					e.Field("close", func(e *jx.Encoder) { e.Str(day.Close.String()) })
					e.Field("enabled", func(e *jx.Encoder) { e.Bool(day.Enabled) })
				})
			})
		}
	})
	return e.Bytes()
}

// orderedWeekdays yields weekday names Sunday first so encoded output is stable.
func orderedWeekdays() func(yield func(string, time.Weekday) bool) {
	return func(yield func(string, time.Weekday) bool) {
		for wd := time.Sunday; wd <= time.Saturday; wd++ {
			if !yield(strings.ToLower(wd.String()), wd) {
				return
			}
		}
	}
}
