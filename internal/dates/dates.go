// Package dates holds the calendar helpers shared by the store and analytics.
// Dates are persisted as YYYY-MM-DD strings so that lexical order equals
// chronological order on every backend.
package dates

import (
	"time"
	_ "time/tzdata"
)

const Layout = "2006-01-02"

// Clock returns the current time. Production code uses SystemClock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// Today formats the clock's current date.
func Today(c Clock) string {
	return c.Now().Format(Layout)
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}

func Parse(s string) (time.Time, error) {
	return time.Parse(Layout, s)
}

// AddDays shifts a YYYY-MM-DD date by n days.
func AddDays(day string, n int) (string, error) {
	t, err := Parse(day)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, n)), nil
}

// DaysBetween returns to-from in whole days, or 0 when either date does not parse.
func DaysBetween(from, to string) int {
	f, err := Parse(from)
	if err != nil {
		return 0
	}
	t, err := Parse(to)
	if err != nil {
		return 0
	}
	return int(t.Sub(f).Hours() / 24)
}

// Timezone loads a location by name, falling back to UTC.
func Timezone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
