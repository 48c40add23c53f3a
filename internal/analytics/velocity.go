package analytics

import (
	"madridtracker/server/internal/dates"
	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// trailingWindowDays is the "last week" window of the velocity metrics.
const trailingWindowDays = 7

type VelocityMetrics struct {
	AvgDaysOnMarket    float64 `json:"avg_days_on_market"`
	MedianDaysOnMarket float64 `json:"median_days_on_market"`
	TotalActive        int     `json:"total_active"`
	TotalSold          int     `json:"total_sold"`
	NewLast7Days       int     `json:"new_last_7_days"`
	SoldLast7Days      int     `json:"sold_last_7_days"`
}

// NewVsSold holds daily counts of listings first seen and retired, one entry per day.
type NewVsSold struct {
	Dates []string `json:"dates"`
	New   []int    `json:"new"`
	Sold  []int    `json:"sold"`
}

// countedSale reports whether l is a retirement observed during tracking. Listings
// first seen on or before trackingStart predate tracking and are not counted.
func countedSale(l models.Listing, trackingStart string) bool {
	if l.Status != models.StatusSoldRemoved {
		return false
	}
	return trackingStart == "" || l.FirstSeenDate > trackingStart
}

// Velocity computes days on market over every listing and the active, sold and
// trailing week counts as of today.
func Velocity(listings []models.Listing, today, trackingStart string) VelocityMetrics {
	var m VelocityMetrics
	if len(listings) == 0 {
		return m
	}

	weekAgo, err := dates.AddDays(today, -trailingWindowDays)
	if err != nil {
		weekAgo = ""
	}

	days := make([]float64, 0, len(listings))
	for _, l := range listings {
		days = append(days, float64(DaysOnMarket(l)))

		if l.Status == models.StatusActive {
			m.TotalActive++
		}
		if weekAgo != "" && l.FirstSeenDate > weekAgo {
			m.NewLast7Days++
		}
		if countedSale(l, trackingStart) {
			m.TotalSold++
			if weekAgo != "" && l.LastSeenDate > weekAgo {
				m.SoldLast7Days++
			}
		}
	}

	m.AvgDaysOnMarket = numeric.Round2(mean(days))
	m.MedianDaysOnMarket = numeric.Round2(median(days))
	return m
}

// NewVsSoldTrends counts, for each of the days+1 dates ending today, the listings
// first seen that day and the counted sales last seen that day.
func NewVsSoldTrends(listings []models.Listing, today string, days int, trackingStart string) NewVsSold {
	out := NewVsSold{Dates: []string{}, New: []int{}, Sold: []int{}}
	if days < 0 {
		return out
	}
	start, err := dates.AddDays(today, -days)
	if err != nil {
		return out
	}

	index := make(map[string]int, days+1)
	for i := 0; i <= days; i++ {
		day, _ := dates.AddDays(start, i)
		index[day] = i
		out.Dates = append(out.Dates, day)
		out.New = append(out.New, 0)
		out.Sold = append(out.Sold, 0)
	}

	for _, l := range listings {
		if i, ok := index[l.FirstSeenDate]; ok {
			out.New[i]++
		}
		if !countedSale(l, trackingStart) {
			continue
		}
		if i, ok := index[l.LastSeenDate]; ok {
			out.Sold[i]++
		}
	}
	return out
}
