package analytics

import (
	"sort"

	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// PeriodPrice aggregates asking prices of listings first seen in one period.
type PeriodPrice struct {
	Date        string  `json:"date"`
	AvgPrice    float64 `json:"avg_price"`
	MedianPrice float64 `json:"median_price"`
	Count       int     `json:"count"`
}

// PeriodPricePerSqm aggregates price per sqm of listings first seen in one period.
type PeriodPricePerSqm struct {
	Date              string  `json:"date"`
	AvgPricePerSqm    float64 `json:"avg_price_sqm"`
	MedianPricePerSqm float64 `json:"median_price_sqm"`
	Count             int     `json:"count"`
}

// groupByPeriod buckets values by the period of their date and returns the labels
// in chronological order.
func groupByPeriod(period Period, days []string, values []float64) ([]string, map[string][]float64) {
	groups := make(map[string][]float64)
	for i, day := range days {
		label, ok := period.bucket(day)
		if !ok {
			continue
		}
		groups[label] = append(groups[label], values[i])
	}
	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, groups
}

// PriceTrends groups listings with a positive price by the period of their
// first_seen_date. Periods without listings are omitted.
func PriceTrends(listings []models.Listing, period Period) []PeriodPrice {
	var days []string
	var prices []float64
	for _, l := range listings {
		if l.Price <= 0 {
			continue
		}
		days = append(days, l.FirstSeenDate)
		prices = append(prices, float64(l.Price))
	}

	labels, groups := groupByPeriod(period, days, prices)
	trends := make([]PeriodPrice, 0, len(labels))
	for _, label := range labels {
		values := groups[label]
		trends = append(trends, PeriodPrice{
			Date:        label,
			AvgPrice:    numeric.Round2(mean(values)),
			MedianPrice: numeric.Round2(median(values)),
			Count:       len(values),
		})
	}
	return trends
}

// PricePerSqmEvolution groups the realistic price per sqm of listings by period.
// distrito empty or "Todos" keeps every distrito.
func PricePerSqmEvolution(listings []models.Listing, period Period, distrito string) []PeriodPricePerSqm {
	var days []string
	var values []float64
	for _, l := range listings {
		if distrito != "" && distrito != AllDistritos && l.Distrito != distrito {
			continue
		}
		ppsqm, ok := realisticPricePerSqm(l)
		if !ok {
			continue
		}
		days = append(days, l.FirstSeenDate)
		values = append(values, ppsqm)
	}

	labels, groups := groupByPeriod(period, days, values)
	evolution := make([]PeriodPricePerSqm, 0, len(labels))
	for _, label := range labels {
		v := groups[label]
		evolution = append(evolution, PeriodPricePerSqm{
			Date:              label,
			AvgPricePerSqm:    numeric.Round2(mean(v)),
			MedianPricePerSqm: numeric.Round2(median(v)),
			Count:             len(v),
		})
	}
	return evolution
}
