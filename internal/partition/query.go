package partition

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/smerr"
)

// Query selects partitions by year, year-month, or exact day. Month and Day
// of zero act as wildcards; Year is always required.
type Query struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseQuery accepts "YYYY", "YYYY-MM", or "YYYY-MM-DD".
func ParseQuery(s string) (Query, error) {
	parts := strings.Split(s, "-")
	if len(parts) < 1 || len(parts) > 3 {
		return Query{}, smerr.Newf(smerr.CodeInvalidDate, "expected YYYY, YYYY-MM, or YYYY-MM-DD: %q", s)
	}

	var q Query
	year, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) != 4 || year < 1 {
		return Query{}, smerr.Newf(smerr.CodeInvalidDate, "bad year in query %q", s)
	}
	q.Year = year

	if len(parts) > 1 {
		month, err := strconv.Atoi(parts[1])
		if err != nil || month < 1 || month > 12 {
			return Query{}, smerr.Newf(smerr.CodeInvalidDate, "bad month in query %q", s)
		}
		q.Month = time.Month(month)
	}
	if len(parts) > 2 {
		day, err := strconv.Atoi(parts[2])
		if err != nil || day < 1 {
			return Query{}, smerr.Newf(smerr.CodeInvalidDate, "bad day in query %q", s)
		}
		if _, err := NewDay(q.Year, q.Month, day); err != nil {
			return Query{}, err
		}
		q.Day = day
	}
	return q, nil
}

// QueryFor returns the exact-day query selecting only d.
func QueryFor(d Day) Query {
	return Query{Year: d.Year(), Month: d.Month(), Day: d.DayOfMonth()}
}

// Matches reports whether the query selects the given day.
func (q Query) Matches(d Day) bool {
	if q.Year != d.Year() {
		return false
	}
	if q.Month != 0 && q.Month != d.Month() {
		return false
	}
	if q.Day != 0 && q.Day != d.DayOfMonth() {
		return false
	}
	return true
}

// Bounds returns the half-open [from, to) day-string interval covered by the
// query, suitable for range comparison against canonical day strings.
func (q Query) Bounds() (from, to string) {
	switch {
	case q.Day != 0:
		d := Day{year: q.Year, month: q.Month, day: q.Day}
		return d.String(), d.Next().String()
	case q.Month != 0:
		start := time.Date(q.Year, q.Month, 1, 0, 0, 0, 0, time.UTC)
		return start.Format(dayLayout), start.AddDate(0, 1, 0).Format(dayLayout)
	default:
		start := time.Date(q.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return start.Format(dayLayout), start.AddDate(1, 0, 0).Format(dayLayout)
	}
}

// String renders the query in its shortest form.
func (q Query) String() string {
	switch {
	case q.Day != 0:
		return fmt.Sprintf("%04d-%02d-%02d", q.Year, q.Month, q.Day)
	case q.Month != 0:
		return fmt.Sprintf("%04d-%02d", q.Year, q.Month)
	default:
		return fmt.Sprintf("%04d", q.Year)
	}
}
