package models

type DatabaseStats struct {
	ActiveCount     int64   `json:"active_count"`
	SoldCount       int64   `json:"sold_count"`
	AvgPrice        float64 `json:"avg_price"`
	AvgPricePerArea float64 `json:"avg_price_per_area"`
}

// ZoneTrend compares a zone's average price on the first and last observation dates.
type ZoneTrend struct {
	Zone           string  `json:"zone"`
	EarliestDate   string  `json:"earliest_date"`
	LatestDate     string  `json:"latest_date"`
	FirstAvgPrice  float64 `json:"first_avg_price"`
	LastAvgPrice   float64 `json:"last_avg_price"`
	PropertyCount  int     `json:"property_count"`
	PriceChange    float64 `json:"price_change"`
	PriceChangePct float64 `json:"price_change_pct"`
}

// ListingFilter holds the optional, conjunctive filters for listing queries.
type ListingFilter struct {
	Status     ListingStatus `form:"status" json:"status"`
	Zones      []string      `form:"zones" json:"zones"`
	MinPrice   *int          `form:"min_price" json:"min_price"`
	MaxPrice   *int          `form:"max_price" json:"max_price"`
	SellerType string        `form:"seller_type" json:"seller_type"`
}

// SellerTypeAll disables the seller type filter.
const SellerTypeAll = "All"
