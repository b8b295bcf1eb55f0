// Package partition defines the calendar-day key that sitemap documents are
// partitioned by, plus the year/month/day query filter used by bulk deletes.
//
// A Day is a plain calendar date with no timezone attached; content timestamps
// are bucketed into days in UTC before they reach this package.
package partition

import (
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

const dayLayout = "2006-01-02"

// Day is one calendar day, the unit of granularity for content grouping and
// document storage. The zero value is invalid and reports IsZero.
type Day struct {
	year  int
	month time.Month
	day   int
}

// NewDay builds a Day from its components, validating that they form a real
// calendar date.
func NewDay(year int, month time.Month, day int) (Day, error) {
	if year < 1 || month < time.January || month > time.December || day < 1 {
		return Day{}, smerr.Newf(smerr.CodeInvalidDate, "not a calendar date: %04d-%02d-%02d", year, month, day)
	}
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject anything that
	// does not round-trip.
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return Day{}, smerr.Newf(smerr.CodeInvalidDate, "not a calendar date: %04d-%02d-%02d", year, month, day)
	}
	return Day{year: year, month: month, day: day}, nil
}

// DayOf buckets a timestamp into its UTC calendar day.
func DayOf(t time.Time) Day {
	u := t.UTC()
	return Day{year: u.Year(), month: u.Month(), day: u.Day()}
}

// Today returns the current UTC day.
func Today() Day {
	return DayOf(time.Now())
}

// ParseDay parses the canonical YYYY-MM-DD form.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, smerr.Wrap(err, smerr.CodeInvalidDate, "expected YYYY-MM-DD")
	}
	return DayOf(t), nil
}

// MustParseDay is ParseDay for static input; it panics on error.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders the canonical YYYY-MM-DD form.
func (d Day) String() string {
	return d.Time().Format(dayLayout)
}

// MarshalText implements encoding.TextMarshaler so days render as
// YYYY-MM-DD in JSON payloads and map keys.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(text []byte) error {
	parsed, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following day; [Time, End) spans the
// whole partition.
func (d Day) End() time.Time {
	return d.Time().AddDate(0, 0, 1)
}

// Year returns the calendar year.
func (d Day) Year() int { return d.year }

// Month returns the calendar month.
func (d Day) Month() time.Month { return d.month }

// DayOfMonth returns the day component.
func (d Day) DayOfMonth() int { return d.day }

// IsZero reports whether d is the invalid zero value.
func (d Day) IsZero() bool {
	return d.year == 0 && d.month == 0 && d.day == 0
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	return DayOf(d.Time().AddDate(0, 0, 1))
}

// Compare orders days chronologically: -1 when d precedes other, 0 when
// equal, +1 when d follows other.
func (d Day) Compare(other Day) int {
	switch {
	case d.year != other.year:
		return cmpInt(d.year, other.year)
	case d.month != other.month:
		return cmpInt(int(d.month), int(other.month))
	default:
		return cmpInt(d.day, other.day)
	}
}

// Before reports whether d precedes other.
func (d Day) Before(other Day) bool { return d.Compare(other) < 0 }

// After reports whether d follows other.
func (d Day) After(other Day) bool { return d.Compare(other) > 0 }

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Range enumerates every day from from through to, inclusive. An inverted
// range yields nil.
func Range(from, to Day) []Day {
	if from.After(to) {
		return nil
	}
	var days []Day
	for d := from; !d.After(to); d = d.Next() {
		days = append(days, d)
	}
	return days
}
