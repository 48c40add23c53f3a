package analytics

import (
	"madridtracker/server/internal/models"
)

// Tier awards Points when a value passes Threshold. Tier lists are evaluated in
// order and the first match wins.
type Tier struct {
	Threshold float64
	Points    float64
}

// ScoringPolicy holds the weights of the quality-price score.
type ScoringPolicy struct {
	Base float64
	Min  float64
	Max  float64

	// price per sqm ratio against the distrito average
	CheaperTiers []Tier // ratio < Threshold
	PricierTiers []Tier // ratio > Threshold

	SizeTiers  []Tier // size > Threshold
	SmallSize  Tier   // size < Threshold, only when no SizeTiers entry matched
	DaysTiers  []Tier // days on market > Threshold
	RoomsTiers []Tier // rooms >= Threshold

	ParticularBonus float64
	ExteriorBonus   float64
	InteriorBonus   float64
}

// DefaultScoringPolicy returns the weights the dashboard is calibrated to.
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		Base: 50,
		Min:  0,
		Max:  100,
		CheaperTiers: []Tier{
			{Threshold: 0.7, Points: 20},
			{Threshold: 0.8, Points: 15},
			{Threshold: 0.9, Points: 10},
			{Threshold: 1.0, Points: 5},
		},
		PricierTiers: []Tier{
			{Threshold: 1.3, Points: -20},
			{Threshold: 1.2, Points: -15},
			{Threshold: 1.1, Points: -10},
		},
		SizeTiers: []Tier{
			{Threshold: 120, Points: 10},
			{Threshold: 100, Points: 8},
			{Threshold: 80, Points: 5},
		},
		SmallSize: Tier{Threshold: 40, Points: -5},
		DaysTiers: []Tier{
			{Threshold: 90, Points: 15},
			{Threshold: 60, Points: 10},
			{Threshold: 30, Points: 5},
		},
		RoomsTiers: []Tier{
			{Threshold: 3, Points: 5},
			{Threshold: 2, Points: 3},
		},
		ParticularBonus: 10,
		ExteriorBonus:   15,
		InteriorBonus:   5,
	}
}

func firstBelow(tiers []Tier, v float64) (float64, bool) {
	for _, t := range tiers {
		if v < t.Threshold {
			return t.Points, true
		}
	}
	return 0, false
}

func firstAbove(tiers []Tier, v float64) (float64, bool) {
	for _, t := range tiers {
		if v > t.Threshold {
			return t.Points, true
		}
	}
	return 0, false
}

func firstAtLeast(tiers []Tier, v float64) (float64, bool) {
	for _, t := range tiers {
		if v >= t.Threshold {
			return t.Points, true
		}
	}
	return 0, false
}

// Score rates a listing from Min to Max; higher means better value. zones supplies
// the distrito averages the price per sqm is compared to.
func (p ScoringPolicy) Score(l models.Listing, zones map[string]ZoneStats) float64 {
	score := p.Base

	if ppsqm, ok := l.PricePerSqm(); ok {
		if z, ok := zones[l.Distrito]; ok && z.AvgPricePerSqm > 0 {
			ratio := ppsqm / z.AvgPricePerSqm
			if pts, ok := firstBelow(p.CheaperTiers, ratio); ok {
				score += pts
			} else if pts, ok := firstAbove(p.PricierTiers, ratio); ok {
				score += pts
			}
		}
	}

	if l.SizeSqm != nil {
		if pts, ok := firstAbove(p.SizeTiers, *l.SizeSqm); ok {
			score += pts
		} else if *l.SizeSqm < p.SmallSize.Threshold {
			score += p.SmallSize.Points
		}
	}

	if l.SellerType == models.SellerParticular {
		score += p.ParticularBonus
	}

	if pts, ok := firstAbove(p.DaysTiers, float64(DaysOnMarket(l))); ok {
		score += pts
	}

	switch l.Orientation {
	case models.OrientationExterior:
		score += p.ExteriorBonus
	case models.OrientationInterior:
		score += p.InteriorBonus
	}

	if l.Rooms != nil {
		if pts, ok := firstAtLeast(p.RoomsTiers, float64(*l.Rooms)); ok {
			score += pts
		}
	}

	if score < p.Min {
		return p.Min
	}
	if score > p.Max {
		return p.Max
	}
	return score
}

// QualityScore scores a listing with the default policy.
func QualityScore(l models.Listing, zones map[string]ZoneStats) float64 {
	return DefaultScoringPolicy().Score(l, zones)
}
