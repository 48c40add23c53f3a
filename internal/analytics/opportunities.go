package analytics

import (
	"sort"

	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// DefaultBargainThreshold is how far below its distrito average, in percent, a
// listing's price per sqm must be to count as a bargain.
const DefaultBargainThreshold = -15.0

// Opportunity is a scored listing.
type Opportunity struct {
	models.Listing
	PriceSqm     float64 `json:"price_per_sqm"`
	DaysOnMarket int     `json:"days_on_market"`
	QualityScore float64 `json:"quality_score"`
	VsZoneAvg    float64 `json:"vs_zone_avg"`
}

// RankOpportunities scores the listings inside the realistic size and price per
// sqm band, comparing each with the distrito averages of that same filtered set,
// and orders them best score first.
func RankOpportunities(listings []models.Listing, policy ScoringPolicy) []Opportunity {
	filtered := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if _, ok := realisticPricePerSqm(l); ok {
			filtered = append(filtered, l)
		}
	}
	out := make([]Opportunity, 0, len(filtered))
	if len(filtered) == 0 {
		return out
	}

	zones := DistritoStats(filtered)
	for _, l := range filtered {
		ppsqm, _ := l.PricePerSqm()
		var vs float64
		if z, ok := zones[l.Distrito]; ok && z.AvgPricePerSqm > 0 {
			vs = (ppsqm/z.AvgPricePerSqm - 1) * 100
		}
		out = append(out, Opportunity{
			Listing:      l,
			PriceSqm:     numeric.Round2(ppsqm),
			DaysOnMarket: DaysOnMarket(l),
			QualityScore: policy.Score(l, zones),
			VsZoneAvg:    numeric.Round2(vs),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QualityScore == out[j].QualityScore {
			return out[i].ListingID < out[j].ListingID
		}
		return out[i].QualityScore > out[j].QualityScore
	})
	return out
}

// Bargains returns the ranked listings priced below threshold percent of their
// distrito average, most discounted first.
func Bargains(listings []models.Listing, policy ScoringPolicy, threshold float64) []Opportunity {
	ranked := RankOpportunities(listings, policy)
	out := make([]Opportunity, 0)
	for _, o := range ranked {
		if o.VsZoneAvg < threshold {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VsZoneAvg < out[j].VsZoneAvg
	})
	return out
}
