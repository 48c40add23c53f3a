// Package analytics computes read-side market statistics over listings and their
// price history. Every function is pure and returns an empty, non-nil result when
// its input is empty or filtered away.
package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"madridtracker/server/internal/dates"
	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

var ErrInvalidPeriod = errors.New("invalid period")

// Period is the time bucket used to group listings by first_seen_date.
type Period string

const (
	Daily   Period = "D"
	Weekly  Period = "W"
	Monthly Period = "M"
)

// Realistic Madrid price per sqm band. Anything outside is treated as a data error.
const (
	MinSizeSqm     = 10.0
	MinPricePerSqm = 2000.0
	MaxPricePerSqm = 50000.0
)

// AllDistritos disables the distrito filter.
const AllDistritos = "Todos"

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToUpper(strings.TrimSpace(s))); p {
	case Daily, Weekly, Monthly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
}

// bucket returns the label of the period containing day: the day itself, the
// Sunday ending its week, or the last day of its month.
func (p Period) bucket(day string) (string, bool) {
	t, err := dates.Parse(day)
	if err != nil {
		return "", false
	}
	switch p {
	case Daily:
		return dates.Format(t), true
	case Weekly:
		offset := (7 - int(t.Weekday())) % 7
		return dates.Format(t.AddDate(0, 0, offset)), true
	case Monthly:
		firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return dates.Format(firstOfNext.AddDate(0, 0, -1)), true
	default:
		return "", false
	}
}

// DaysOnMarket is last_seen_date minus first_seen_date, 0 when either does not parse.
func DaysOnMarket(l models.Listing) int {
	return dates.DaysBetween(l.FirstSeenDate, l.LastSeenDate)
}

// realisticPricePerSqm returns the listing's price per sqm when its size and price
// per sqm fall inside the realistic band.
func realisticPricePerSqm(l models.Listing) (float64, bool) {
	if l.SizeSqm == nil || *l.SizeSqm < MinSizeSqm {
		return 0, false
	}
	ppsqm, ok := l.PricePerSqm()
	if !ok || ppsqm < MinPricePerSqm || ppsqm > MaxPricePerSqm {
		return 0, false
	}
	return ppsqm, true
}

func pricePerSqmPtr(price int, size *float64) *float64 {
	if size == nil || *size <= 0 {
		return nil
	}
	v := numeric.Round2(float64(price) / *size)
	return &v
}
