package models

import (
	"strings"
	"unicode/utf8"
)

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	StatusActive      ListingStatus = "active"
	StatusSoldRemoved ListingStatus = "sold_removed"
)

// IsValid checks if a status is recognized.
func (s ListingStatus) IsValid() bool {
	return s == StatusActive || s == StatusSoldRemoved
}

const (
	SellerParticular = "Particular"
	SellerAgencia    = "Agencia"

	OrientationExterior = "Exterior"
	OrientationInterior = "Interior"
)

// MaxDescriptionLength is the number of characters kept from a scraped description.
const MaxDescriptionLength = 500

// Listing is the current state of one property, keyed by the external listing ID.
type Listing struct {
	ListingID        string        `gorm:"column:listing_id;primaryKey" json:"listing_id"`
	Title            string        `gorm:"column:title" json:"title"`
	URL              string        `gorm:"column:url" json:"url"`
	Price            int           `gorm:"column:price" json:"price"`
	Distrito         string        `gorm:"column:distrito;index:idx_distrito" json:"distrito"`
	Barrio           string        `gorm:"column:barrio" json:"barrio"`
	Rooms            *int          `gorm:"column:rooms" json:"rooms"`
	SizeSqm          *float64      `gorm:"column:size_sqm" json:"size_sqm"`
	Floor            string        `gorm:"column:floor" json:"floor"`
	Orientation      string        `gorm:"column:orientation" json:"orientation"`
	SellerType       string        `gorm:"column:seller_type" json:"seller_type"`
	IsNewDevelopment bool          `gorm:"column:is_new_development" json:"is_new_development"`
	Description      string        `gorm:"column:description" json:"description"`
	FirstSeenDate    string        `gorm:"column:first_seen_date" json:"first_seen_date"` // YYYY-MM-DD
	LastSeenDate     string        `gorm:"column:last_seen_date;index:idx_last_seen" json:"last_seen_date"`
	Status           ListingStatus `gorm:"column:status;index:idx_status;default:active" json:"status"`
}

func (Listing) TableName() string {
	return "listings"
}

// PricePerSqm returns price divided by size, and false when the size is unknown or not positive.
func (l Listing) PricePerSqm() (float64, bool) {
	if l.SizeSqm == nil || *l.SizeSqm <= 0 {
		return 0, false
	}
	return float64(l.Price) / *l.SizeSqm, true
}

// Size returns the living area, 0 when unknown.
func (l Listing) Size() float64 {
	if l.SizeSqm == nil {
		return 0
	}
	return *l.SizeSqm
}

// Observation is one listing record as produced by the scraper.
type Observation struct {
	ListingID        string   `json:"listing_id" validate:"required,max=64"`
	Title            string   `json:"title"`
	URL              string   `json:"url"`
	Price            int      `json:"price" validate:"gte=0"`
	Distrito         string   `json:"distrito"`
	Barrio           string   `json:"barrio"`
	Rooms            *int     `json:"rooms" validate:"omitempty,gte=0"`
	SizeSqm          *float64 `json:"size_sqm" validate:"omitempty,gte=0"`
	Floor            string   `json:"floor"`
	Orientation      string   `json:"orientation"`
	SellerType       string   `json:"seller_type"`
	IsNewDevelopment bool     `json:"is_new_development"`
	Description      string   `json:"description"`
}

// Normalize trims text fields and caps the description length.
func (o *Observation) Normalize() {
	o.ListingID = strings.TrimSpace(o.ListingID)
	o.Title = strings.TrimSpace(o.Title)
	o.URL = strings.TrimSpace(o.URL)
	o.Distrito = strings.TrimSpace(o.Distrito)
	o.Barrio = strings.TrimSpace(o.Barrio)
	o.Description = strings.TrimSpace(o.Description)
	if utf8.RuneCountInString(o.Description) > MaxDescriptionLength {
		o.Description = string([]rune(o.Description)[:MaxDescriptionLength]) + "..."
	}
}

// ToListing builds a new active listing first seen on the given date.
func (o Observation) ToListing(today string) Listing {
	return Listing{
		ListingID:        o.ListingID,
		Title:            o.Title,
		URL:              o.URL,
		Price:            o.Price,
		Distrito:         o.Distrito,
		Barrio:           o.Barrio,
		Rooms:            o.Rooms,
		SizeSqm:          o.SizeSqm,
		Floor:            o.Floor,
		Orientation:      o.Orientation,
		SellerType:       o.SellerType,
		IsNewDevelopment: o.IsNewDevelopment,
		Description:      o.Description,
		FirstSeenDate:    today,
		LastSeenDate:     today,
		Status:           StatusActive,
	}
}
