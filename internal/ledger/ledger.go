// Package ledger derives price history entries and per-listing price statistics.
package ledger

import (
	"madridtracker/server/internal/dates"
	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// NewEntry builds the history entry for an observed price. prev is the price of the
// immediately preceding entry for the same listing, or nil for the first entry.
func NewEntry(listingID string, price int, day string, prev *int) models.PriceHistoryEntry {
	entry := models.PriceHistoryEntry{
		ListingID:    listingID,
		Price:        price,
		DateRecorded: day,
	}
	if prev == nil {
		return entry
	}
	amount := price - *prev
	pct := numeric.PercentChange(float64(*prev), float64(price))
	entry.ChangeAmount = &amount
	entry.ChangePercent = &pct
	return entry
}

// Changed reports whether an observed price needs a new entry after prev.
func Changed(prev *int, price int) bool {
	return prev == nil || *prev != price
}

// Summarize computes price statistics over entries ordered oldest first.
// It returns false when there is no history.
func Summarize(listingID string, entries []models.PriceHistoryEntry) (models.PriceStats, bool) {
	if len(entries) == 0 {
		return models.PriceStats{}, false
	}

	first := entries[0]
	last := entries[len(entries)-1]
	stats := models.PriceStats{
		ListingID:     listingID,
		InitialPrice:  first.Price,
		CurrentPrice:  last.Price,
		TotalChange:   last.Price - first.Price,
		FirstRecorded: first.DateRecorded,
		LastRecorded:  last.DateRecorded,
	}
	stats.TotalChangePercent = numeric.PercentChange(float64(first.Price), float64(last.Price))

	for _, e := range entries {
		if e.ChangeAmount == nil {
			continue
		}
		stats.NumChanges++
		switch {
		case *e.ChangeAmount < 0:
			stats.NumDrops++
		case *e.ChangeAmount > 0:
			stats.NumIncreases++
		}
	}

	if stats.NumChanges > 0 {
		span := dates.DaysBetween(first.DateRecorded, last.DateRecorded)
		stats.AvgDaysBetweenChanges = numeric.Round2(float64(span) / float64(stats.NumChanges))
	}
	return stats, true
}
