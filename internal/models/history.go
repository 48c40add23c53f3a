package models

// PriceHistoryEntry is one append-only price observation. Change fields are nil
// for the first entry of a listing.
type PriceHistoryEntry struct {
	ID            uint     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ListingID     string   `gorm:"column:listing_id;not null;index:idx_listing_price,priority:1" json:"listing_id"`
	Price         int      `gorm:"column:price;not null" json:"price"`
	DateRecorded  string   `gorm:"column:date_recorded;not null;index:idx_listing_price,priority:2;index:idx_date_recorded" json:"date_recorded"`
	ChangeAmount  *int     `gorm:"column:change_amount" json:"change_amount"`
	ChangePercent *float64 `gorm:"column:change_percent" json:"change_percent"`
}

func (PriceHistoryEntry) TableName() string {
	return "price_history"
}

// PriceChange is a price movement recorded during reconciliation.
type PriceChange struct {
	ListingID     string  `json:"listing_id"`
	OldPrice      int     `json:"old_price"`
	NewPrice      int     `json:"new_price"`
	ChangeAmount  int     `json:"change_amount"`
	ChangePercent float64 `json:"change_percent"`
	Date          string  `json:"date"`
}

// PriceStats summarizes the price history of one listing.
type PriceStats struct {
	ListingID             string  `json:"listing_id"`
	InitialPrice          int     `json:"initial_price"`
	CurrentPrice          int     `json:"current_price"`
	TotalChange           int     `json:"total_change"`
	TotalChangePercent    float64 `json:"total_change_percent"`
	NumChanges            int     `json:"num_changes"`
	NumDrops              int     `json:"num_drops"`
	NumIncreases          int     `json:"num_increases"`
	FirstRecorded         string  `json:"first_recorded"`
	LastRecorded          string  `json:"last_recorded"`
	AvgDaysBetweenChanges float64 `json:"avg_days_between_changes"`
}

// PriceDrop is a recent history entry joined with the listing it belongs to.
type PriceDrop struct {
	ListingID     string   `json:"listing_id"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Distrito      string   `json:"distrito"`
	Barrio        string   `json:"barrio"`
	Rooms         *int     `json:"rooms"`
	SizeSqm       *float64 `json:"size_sqm"`
	Status        string   `json:"status"`
	OldPrice      int      `json:"old_price"`
	NewPrice      int      `json:"new_price"`
	ChangeAmount  int      `json:"change_amount"`
	ChangePercent float64  `json:"change_percent"`
	DateRecorded  string   `json:"date_recorded"`
	OldPriceSqm   *float64 `json:"old_price_sqm"`
	NewPriceSqm   *float64 `json:"new_price_sqm"`
}

// DesperateSeller is a listing with repeated, cumulatively large price cuts.
type DesperateSeller struct {
	ListingID       string   `json:"listing_id"`
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Distrito        string   `json:"distrito"`
	Barrio          string   `json:"barrio"`
	Rooms           *int     `json:"rooms"`
	SizeSqm         *float64 `json:"size_sqm"`
	InitialPrice    int      `json:"initial_price"`
	CurrentPrice    int      `json:"current_price"`
	TotalDrop       int      `json:"total_drop"`
	TotalDropPct    float64  `json:"total_drop_pct"`
	NumDrops        int      `json:"num_drops"`
	FirstSeenDate   string   `json:"first_seen_date"`
	LastChangeDate  string   `json:"last_change_date"`
	UrgencyScore    float64  `json:"urgency_score"`
	InitialPriceSqm *float64 `json:"initial_price_sqm"`
	CurrentPriceSqm *float64 `json:"current_price_sqm"`
}

// HistorySummary aggregates the whole price history ledger.
type HistorySummary struct {
	TotalRecords          int64   `json:"total_records"`
	PropertiesWithChanges int64   `json:"properties_with_changes"`
	TotalChanges          int64   `json:"total_changes"`
	PriceDrops            int64   `json:"price_drops"`
	PriceIncreases        int64   `json:"price_increases"`
	AvgDropPercent        float64 `json:"avg_drop_percent"`
	AvgIncreasePercent    float64 `json:"avg_increase_percent"`
}
