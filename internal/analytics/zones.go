package analytics

import (
	"sort"

	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// ZoneStats describes the listings of one distrito.
type ZoneStats struct {
	Zone           string  `json:"zone"`
	AvgPrice       float64 `json:"avg_price"`
	MedianPrice    float64 `json:"median_price"`
	AvgPricePerSqm float64 `json:"avg_price_sqm"`
	Count          int     `json:"count"`
}

// DistritoStats groups listings by distrito. Prices are averaged over positive
// prices, price per sqm over listings with a known size. Count includes every
// listing of the distrito.
func DistritoStats(listings []models.Listing) map[string]ZoneStats {
	type acc struct {
		prices []float64
		ppsqm  []float64
		count  int
	}
	groups := make(map[string]*acc)
	for _, l := range listings {
		if l.Distrito == "" {
			continue
		}
		a, ok := groups[l.Distrito]
		if !ok {
			a = &acc{}
			groups[l.Distrito] = a
		}
		a.count++
		if l.Price > 0 {
			a.prices = append(a.prices, float64(l.Price))
		}
		if v, ok := l.PricePerSqm(); ok {
			a.ppsqm = append(a.ppsqm, v)
		}
	}

	stats := make(map[string]ZoneStats, len(groups))
	for zone, a := range groups {
		stats[zone] = ZoneStats{
			Zone:           zone,
			AvgPrice:       mean(a.prices),
			MedianPrice:    median(a.prices),
			AvgPricePerSqm: mean(a.ppsqm),
			Count:          a.count,
		}
	}
	return stats
}

// TopZones returns the zones with at least minSample listings ordered by average
// price per sqm, most expensive first, with values rounded for presentation.
func TopZones(stats map[string]ZoneStats, minSample int) []ZoneStats {
	out := make([]ZoneStats, 0, len(stats))
	for _, s := range stats {
		if s.Count < minSample {
			continue
		}
		s.AvgPrice = numeric.Round2(s.AvgPrice)
		s.MedianPrice = numeric.Round2(s.MedianPrice)
		s.AvgPricePerSqm = numeric.Round2(s.AvgPricePerSqm)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgPricePerSqm == out[j].AvgPricePerSqm {
			return out[i].Zone < out[j].Zone
		}
		return out[i].AvgPricePerSqm > out[j].AvgPricePerSqm
	})
	return out
}
