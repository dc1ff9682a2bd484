package ledger

import (
	"time"
)

// =============================================================================
// DAY - Calendar date without a time of day
// =============================================================================

// Day is a calendar date. The zero value means "no date".
// Streaks and the daily login rule compare days, not instants, so a Day is
// always derived in a specific location (see DayOf).
type Day struct {
	Year  int
	Month time.Month
	Dom   int
}

const dayLayout = "2006-01-02"

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Dom: d}
}

// NewDay builds a Day from its parts.
func NewDay(year int, month time.Month, dom int) Day {
	return DayOf(time.Date(year, month, dom, 0, 0, 0, 0, time.UTC), time.UTC)
}

// ParseDay parses a YYYY-MM-DD string. Empty input yields the zero Day.
func ParseDay(s string) (Day, error) {
	if s == "" {
		return Day{}, nil
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, err
	}
	return DayOf(t, time.UTC), nil
}

func (d Day) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Dom == 0 }

func (d Day) midnight() time.Time { return time.Date(d.Year, d.Month, d.Dom, 0, 0, 0, 0, time.UTC) }

func (d Day) AddDays(n int) Day { return DayOf(d.midnight().AddDate(0, 0, n), time.UTC) }
func (d Day) Before(o Day) bool { return d.midnight().Before(o.midnight()) }
func (d Day) After(o Day) bool { return d.midnight().After(o.midnight()) }
func (d Day) Equal(o Day) bool { return d == o }

const secondsPerDay = 24 * 60 * 60

// DaysUntil returns the number of calendar days from d to o, negative when
// o is earlier.
func (d Day) DaysUntil(o Day) int {
	return int((o.midnight().Unix() - d.midnight().Unix()) / secondsPerDay)
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.midnight().Format(dayLayout)
}

func (d Day) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
