package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ListingType is either "sale" or "rent".
type ListingType string

const (
	ListingTypeSale ListingType = "sale"
	ListingTypeRent ListingType = "rent"
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool {
	return t == ListingTypeSale || t == ListingTypeRent
}

// Limits enforced on listing fields.
const (
	NameMinLen    = 10
	NameMaxLen    = 32
	RoomsMin      = 1
	RoomsMax      = 50
	PriceMin      = 50
	PriceMax      = 7500000
	MaxImages     = 6
	MinNewImages  = 1
	DefaultLimit  = 10
	MaxFetchLimit = 100
)

// Geolocation is a lat/lng pair.
type Geolocation struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// Listing is a property for sale or rent.
type Listing struct {
	Base            `bson:",inline"`
	Type            ListingType        `bson:"type" json:"type"`
	Name            string             `bson:"name" json:"name"`
	Bedrooms        int                `bson:"bedrooms" json:"bedrooms"`
	Bathrooms       int                `bson:"bathrooms" json:"bathrooms"`
	Parking         bool               `bson:"parking" json:"parking"`
	Furnished       bool               `bson:"furnished" json:"furnished"`
	Offer           bool               `bson:"offer" json:"offer"`
	RegularPrice    float64            `bson:"regular_price" json:"regular_price"`
	DiscountedPrice *float64           `bson:"discounted_price,omitempty" json:"discounted_price,omitempty"`
	Location        string             `bson:"location" json:"location"`
	Geolocation     Geolocation        `bson:"geolocation" json:"geolocation"`
	ImageURLs       []string           `bson:"image_urls" json:"image_urls"` // First is the cover
	ImageKeys       []string           `bson:"image_keys" json:"-"`          // Storage keys, parallel to ImageURLs
	Timestamp       time.Time          `bson:"timestamp" json:"timestamp"`   // Server-assigned on every write
	UserRef         primitive.ObjectID `bson:"user_ref" json:"user_ref"`
}

// CoverImage returns the first image URL, or "" if there is none.
func (l *Listing) CoverImage() string {
	if len(l.ImageURLs) == 0 {
		return ""
	}
	return l.ImageURLs[0]
}

// DisplayPrice is the discounted price for offers, the regular price otherwise.
func (l *Listing) DisplayPrice() float64 {
	if l.Offer && l.DiscountedPrice != nil {
		return *l.DiscountedPrice
	}
	return l.RegularPrice
}
