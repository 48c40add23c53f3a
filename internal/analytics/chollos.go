package analytics

import (
	"sort"

	"madridtracker/server/internal/models"
	"madridtracker/server/internal/numeric"
)

// CholloParams tunes the per-barrio z-score detector.
type CholloParams struct {
	MinListings  int     // qualifying listings required overall, exclusive
	MinPerBarrio int     // qualifying listings required in a barrio
	ZThreshold   float64 // z-score below which a listing is a chollo
}

func DefaultCholloParams() CholloParams {
	return CholloParams{MinListings: 20, MinPerBarrio: 5, ZThreshold: -1.5}
}

// Chollo is a listing whose price per sqm is an outlier below its barrio mean.
type Chollo struct {
	models.Listing
	PriceSqm        float64 `json:"price_per_sqm"`
	BarrioMean      float64 `json:"mean_price_sqm"`
	BarrioStd       float64 `json:"std_price_sqm"`
	ZScore          float64 `json:"z_score"`
	DiscountPercent float64 `json:"discount_percent"`
}

// Chollos flags active listings whose price per sqm z-score within their barrio is
// below the threshold. Barrios with fewer than MinPerBarrio qualifying listings or
// no spread are skipped.
func Chollos(listings []models.Listing, params CholloParams) []Chollo {
	out := make([]Chollo, 0)

	type candidate struct {
		listing models.Listing
		ppsqm   float64
	}
	var candidates []candidate
	for _, l := range listings {
		if l.Status != models.StatusActive || l.Price <= 0 || l.Barrio == "" {
			continue
		}
		ppsqm, ok := l.PricePerSqm()
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{listing: l, ppsqm: ppsqm})
	}
	if len(candidates) <= params.MinListings {
		return out
	}

	byBarrio := make(map[string][]float64)
	for _, c := range candidates {
		byBarrio[c.listing.Barrio] = append(byBarrio[c.listing.Barrio], c.ppsqm)
	}
	type barrioStats struct{ mean, std float64 }
	stats := make(map[string]barrioStats, len(byBarrio))
	for barrio, values := range byBarrio {
		if len(values) < params.MinPerBarrio {
			continue
		}
		std := sampleStd(values)
		if std == 0 {
			continue
		}
		stats[barrio] = barrioStats{mean: mean(values), std: std}
	}

	for _, c := range candidates {
		s, ok := stats[c.listing.Barrio]
		if !ok {
			continue
		}
		z := (c.ppsqm - s.mean) / s.std
		if z >= params.ZThreshold {
			continue
		}
		out = append(out, Chollo{
			Listing:         c.listing,
			PriceSqm:        numeric.Round2(c.ppsqm),
			BarrioMean:      numeric.Round2(s.mean),
			BarrioStd:       numeric.Round2(s.std),
			ZScore:          numeric.Round2(z),
			DiscountPercent: numeric.Round2((c.ppsqm/s.mean - 1) * 100),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ZScore == out[j].ZScore {
			return out[i].ListingID < out[j].ListingID
		}
		return out[i].ZScore < out[j].ZScore
	})
	return out
}
