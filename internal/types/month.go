package types

import (
	"fmt"
	"time"
)

const (
	monthLayout = "2006-01"
	dayLayout   = "2006-01-02"
)

// Month is a calendar month bucket in UTC, formatted YYYY-MM. The string form
// sorts chronologically.
type Month string

// MonthOf buckets t into its UTC calendar month.
func MonthOf(t time.Time) Month {
	return Month(t.UTC().Format(monthLayout))
}

// ParseMonth validates a YYYY-MM string.
func ParseMonth(value string) (Month, error) {
	parsed, err := time.Parse(monthLayout, value)
	if err != nil {
		return "", fmt.Errorf("invalid month %q: expected YYYY-MM", value)
	}
	return MonthOf(parsed), nil
}

// String implements fmt.Stringer.
func (m Month) String() string {
	return string(m)
}

// Start returns the first instant of the month.
func (m Month) Start() time.Time {
	parsed, err := time.Parse(monthLayout, string(m))
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

// End returns the first instant of the following month (exclusive bound).
func (m Month) End() time.Time {
	return m.Start().AddDate(0, 1, 0)
}

// Last returns the last representable instant inside the month.
func (m Month) Last() time.Time {
	return m.End().Add(-time.Nanosecond)
}

// AddMonths shifts the month by n (may be negative).
func (m Month) AddMonths(n int) Month {
	return MonthOf(m.Start().AddDate(0, n, 0))
}

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool {
	return m < other
}

// MonthsSince counts whole months from start to m.
func (m Month) MonthsSince(start Month) int {
	a, b := start.Start(), m.Start()
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// MonthRange lists every month from first to last inclusive.
func MonthRange(first, last Month) []Month {
	if last.Before(first) {
		return nil
	}
	out := []Month{}
	for m := first; !last.Before(m); m = m.AddMonths(1) {
		out = append(out, m)
	}
	return out
}

// DayOf returns the UTC calendar date of t as YYYY-MM-DD.
func DayOf(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// MonthOfDay buckets a YYYY-MM-DD string.
func MonthOfDay(day string) Month {
	if len(day) < len(monthLayout) {
		return ""
	}
	return Month(day[:len(monthLayout)])
}
