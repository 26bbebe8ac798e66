// Package form holds the typed listing form state. Raw request values are decoded once,
// against a declared field schema, and every change produces a new State.
package form

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/models"
)

// Kind is the declared type of a form field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	}
	return "unknown"
}

// Field names as submitted by clients.
const (
	FieldType            = "type"
	FieldName            = "name"
	FieldBedrooms        = "bedrooms"
	FieldBathrooms       = "bathrooms"
	FieldParking         = "parking"
	FieldFurnished       = "furnished"
	FieldAddress         = "address"
	FieldOffer           = "offer"
	FieldRegularPrice    = "regularPrice"
	FieldDiscountedPrice = "discountedPrice"
	FieldLatitude        = "latitude"
	FieldLongitude       = "longitude"
)

// State is the decoded listing form. It is a value type; Apply returns a copy.
type State struct {
	Type            models.ListingType
	Name            string
	Bedrooms        int
	Bathrooms       int
	Parking         bool
	Furnished       bool
	Address         string
	Offer           bool
	RegularPrice    float64
	DiscountedPrice float64
	Latitude        float64
	Longitude       float64
}

// FieldChange is a single raw value arriving from the boundary.
type FieldChange struct {
	Field string
	Value string
}

type fieldSpec struct {
	kind    Kind
	set     func(s *State, v interface{})
	choices []string
}

var schema = map[string]fieldSpec{
	FieldType: {kind: KindEnum, choices: []string{string(models.ListingTypeSale), string(models.ListingTypeRent)},
		set: func(s *State, v interface{}) { s.Type = models.ListingType(v.(string)) }},
	FieldName:            {kind: KindString, set: func(s *State, v interface{}) { s.Name = v.(string) }},
	FieldBedrooms:        {kind: KindInt, set: func(s *State, v interface{}) { s.Bedrooms = v.(int) }},
	FieldBathrooms:       {kind: KindInt, set: func(s *State, v interface{}) { s.Bathrooms = v.(int) }},
	FieldParking:         {kind: KindBool, set: func(s *State, v interface{}) { s.Parking = v.(bool) }},
	FieldFurnished:       {kind: KindBool, set: func(s *State, v interface{}) { s.Furnished = v.(bool) }},
	FieldAddress:         {kind: KindString, set: func(s *State, v interface{}) { s.Address = v.(string) }},
	FieldOffer:           {kind: KindBool, set: func(s *State, v interface{}) { s.Offer = v.(bool) }},
	FieldRegularPrice:    {kind: KindFloat, set: func(s *State, v interface{}) { s.RegularPrice = v.(float64) }},
	FieldDiscountedPrice: {kind: KindFloat, set: func(s *State, v interface{}) { s.DiscountedPrice = v.(float64) }},
	FieldLatitude:        {kind: KindFloat, set: func(s *State, v interface{}) { s.Latitude = v.(float64) }},
	FieldLongitude:       {kind: KindFloat, set: func(s *State, v interface{}) { s.Longitude = v.(float64) }},
}

// Fields returns the schema's field names in a stable order.
func Fields() []string {
	return []string{
		FieldType, FieldName, FieldBedrooms, FieldBathrooms, FieldParking, FieldFurnished,
		FieldAddress, FieldOffer, FieldRegularPrice, FieldDiscountedPrice, FieldLatitude, FieldLongitude,
	}
}

// KindOf returns the declared kind of a field.
func KindOf(field string) (Kind, bool) {
	spec, ok := schema[field]
	return spec.kind, ok
}

// Default returns the initial state of an empty form.
func Default() State {
	return State{
		Type:      models.ListingTypeRent,
		Bedrooms:  1,
		Bathrooms: 1,
	}
}

// Apply decodes change against the schema and returns the new state. s is not modified.
func Apply(s State, change FieldChange) (State, error) {
	spec, ok := schema[change.Field]
	if !ok {
		return s, apperr.Invalid(change.Field, "unknown field")
	}
	v, err := decode(spec, strings.TrimSpace(change.Value))
	if err != nil {
		return s, apperr.Invalid(change.Field, "%v", err)
	}
	next := s
	spec.set(&next, v)
	return next, nil
}

func decode(spec fieldSpec, raw string) (interface{}, error) {
	switch spec.kind {
	case KindString:
		return raw, nil
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", raw)
		}
		return n, nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return f, nil
	case KindBool:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("expected true or false, got %q", raw)
	case KindEnum:
		for _, c := range spec.choices {
			if raw == c {
				return raw, nil
			}
		}
		return nil, fmt.Errorf("expected one of %s, got %q", strings.Join(spec.choices, ", "), raw)
	}
	return nil, fmt.Errorf("unsupported kind %s", spec.kind)
}

// Decode builds a State from base by applying every schema field that lookup finds.
// Decoding errors for all fields are collected into one ValidationError.
func Decode(base State, lookup func(field string) (string, bool)) (State, error) {
	s := base
	verr := &apperr.ValidationError{}
	for _, field := range Fields() {
		raw, ok := lookup(field)
		if !ok {
			continue
		}
		next, err := Apply(s, FieldChange{Field: field, Value: raw})
		if err != nil {
			if ve, ok := err.(*apperr.ValidationError); ok {
				verr.Fields = append(verr.Fields, ve.Fields...)
				continue
			}
			return s, err
		}
		s = next
	}
	return s, verr.OrNil()
}

// Validate checks every field constraint of a listing.
func Validate(s State) error {
	verr := &apperr.ValidationError{}

	if !s.Type.Valid() {
		verr.Add(FieldType, "must be sale or rent")
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(s.Name)); n < models.NameMinLen || n > models.NameMaxLen {
		verr.Add(FieldName, "must be %d to %d characters", models.NameMinLen, models.NameMaxLen)
	}
	if s.Bedrooms < models.RoomsMin || s.Bedrooms > models.RoomsMax {
		verr.Add(FieldBedrooms, "must be between %d and %d", models.RoomsMin, models.RoomsMax)
	}
	if s.Bathrooms < models.RoomsMin || s.Bathrooms > models.RoomsMax {
		verr.Add(FieldBathrooms, "must be between %d and %d", models.RoomsMin, models.RoomsMax)
	}
	if strings.TrimSpace(s.Address) == "" {
		verr.Add(FieldAddress, "is required")
	}
	if s.RegularPrice < models.PriceMin || s.RegularPrice > models.PriceMax {
		verr.Add(FieldRegularPrice, "must be between %d and %d", models.PriceMin, models.PriceMax)
	}
	if s.Offer && (s.DiscountedPrice < models.PriceMin || s.DiscountedPrice > models.PriceMax) {
		verr.Add(FieldDiscountedPrice, "must be between %d and %d", models.PriceMin, models.PriceMax)
	}
	// Checked whether or not the listing is an offer.
	if s.DiscountedPrice >= s.RegularPrice {
		verr.Add(FieldDiscountedPrice, "discounted price should be less than regular price")
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		verr.Add(FieldLatitude, "must be between -90 and 90")
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		verr.Add(FieldLongitude, "must be between -180 and 180")
	}

	return verr.OrNil()
}

// ValidateImageCount checks the number of selected images. A new listing needs at least
// one; an edit may keep its existing images by sending none.
func ValidateImageCount(n int, creating bool) error {
	if n > models.MaxImages {
		return apperr.Invalid("images", "max %d images", models.MaxImages)
	}
	if creating && n < models.MinNewImages {
		return apperr.Invalid("images", "at least %d image is required", models.MinNewImages)
	}
	return nil
}

// FromListing loads an existing listing into a form, mapping location to address.
func FromListing(l *models.Listing) State {
	s := State{
		Type:         l.Type,
		Name:         l.Name,
		Bedrooms:     l.Bedrooms,
		Bathrooms:    l.Bathrooms,
		Parking:      l.Parking,
		Furnished:    l.Furnished,
		Address:      l.Location,
		Offer:        l.Offer,
		RegularPrice: l.RegularPrice,
		Latitude:     l.Geolocation.Lat,
		Longitude:    l.Geolocation.Lng,
	}
	if l.DiscountedPrice != nil {
		s.DiscountedPrice = *l.DiscountedPrice
	}
	return s
}

// ApplyTo copies the form fields onto l. The address becomes the location and the
// discounted price is dropped when the listing is not an offer.
func (s State) ApplyTo(l *models.Listing) {
	l.Type = s.Type
	l.Name = strings.TrimSpace(s.Name)
	l.Bedrooms = s.Bedrooms
	l.Bathrooms = s.Bathrooms
	l.Parking = s.Parking
	l.Furnished = s.Furnished
	l.Offer = s.Offer
	l.RegularPrice = s.RegularPrice
	l.Location = strings.TrimSpace(s.Address)
	l.Geolocation = models.Geolocation{Lat: s.Latitude, Lng: s.Longitude}
	l.DiscountedPrice = nil
	if s.Offer {
		d := s.DiscountedPrice
		l.DiscountedPrice = &d
	}
}
