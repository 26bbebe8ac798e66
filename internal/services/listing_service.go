package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/housemarket/internal/apperr"
	"greendrake/housemarket/internal/db"
	"greendrake/housemarket/internal/models"
)

// ListingQuery selects one page of listings ordered newest first.
type ListingQuery struct {
	Offer   *bool
	Type    *models.ListingType
	UserRef *primitive.ObjectID
	Limit   int
	Cursor  string // Empty for the first page
}

// ListingPage is one page of results. NextCursor is empty when no more listings match.
type ListingPage struct {
	Items      []models.Listing `json:"data"`
	NextCursor string           `json:"next_cursor"`
}

// IListingCache caches the recommended slider.
type IListingCache interface {
	GetRecommended(ctx context.Context, n int) ([]models.Listing, int64, bool, error)
	SetRecommended(ctx context.Context, version int64, n int, listings []models.Listing) error
	Invalidate(ctx context.Context) error
}

// IListingService defines the document-store operations on listings.
type IListingService interface {
	FetchPage(ctx context.Context, q ListingQuery) (*ListingPage, error)
	FindByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error)
	Insert(ctx context.Context, listing *models.Listing) error
	Update(ctx context.Context, listing *models.Listing) error
	Recommended(ctx context.Context, n int) ([]models.Listing, error)
}

// listingService implements IListingService on MongoDB.
type listingService struct {
	db    *mongo.Database
	cache IListingCache
	now   func() time.Time
}

// NewListingService creates a new ListingService. cache may be nil.
func NewListingService(database *mongo.Database, cache IListingCache) IListingService {
	return &listingService{db: database, cache: cache, now: ServerTime}
}

// ServerTime is the single source of listing timestamps. Mongo keeps milliseconds, so
// the value is truncated to match what is read back.
func ServerTime() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// FetchPage returns up to q.Limit listings after q.Cursor.
func (s *listingService) FetchPage(ctx context.Context, q ListingQuery) (*ListingPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	if limit > models.MaxFetchLimit {
		limit = models.MaxFetchLimit
	}

	filter := bson.M{}
	if q.Offer != nil {
		filter["offer"] = *q.Offer
	}
	if q.Type != nil {
		filter["type"] = *q.Type
	}
	if q.UserRef != nil {
		filter["user_ref"] = *q.UserRef
	}
	if q.Cursor != "" {
		ts, lastID, err := DecodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		// Items with the same timestamp and a smaller id, or an earlier timestamp.
		filter["$or"] = bson.A{
			bson.M{"timestamp": ts, "_id": bson.M{"$lt": lastID}},
			bson.M{"timestamp": bson.M{"$lt": ts}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit + 1))

	cur, err := s.db.Collection(db.ListingsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Transport("query listings", err)
	}
	defer cur.Close(ctx)

	results := make([]models.Listing, 0, limit+1)
	if err := cur.All(ctx, &results); err != nil {
		return nil, apperr.Transport("decode listings", err)
	}

	page := &ListingPage{Items: results}
	if len(results) > limit {
		page.Items = results[:limit]
		page.NextCursor = EncodeCursor(&page.Items[limit-1])
	}
	return page, nil
}

// FindByID returns the listing or apperr.ErrNotFound.
func (s *listingService) FindByID(ctx context.Context, listingID primitive.ObjectID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Collection(db.ListingsCollection).FindOne(ctx, bson.M{"_id": listingID}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("listing %s: %w", listingID.Hex(), apperr.ErrNotFound)
		}
		return nil, apperr.Transport("find listing", err)
	}
	return &listing, nil
}

// Insert writes a new listing, assigning its ID and server timestamp.
func (s *listingService) Insert(ctx context.Context, listing *models.Listing) error {
	listing.GenIDIfEmpty()
	listing.Timestamp = s.now()

	if _, err := s.db.Collection(db.ListingsCollection).InsertOne(ctx, listing); err != nil {
		return apperr.Transport("insert listing", err)
	}
	s.invalidate(ctx)
	return nil
}

// Update overwrites the mutable fields of a listing owned by listing.UserRef and
// refreshes its server timestamp.
func (s *listingService) Update(ctx context.Context, listing *models.Listing) error {
	listing.Timestamp = s.now()

	set := bson.M{
		"type":          listing.Type,
		"name":          listing.Name,
		"bedrooms":      listing.Bedrooms,
		"bathrooms":     listing.Bathrooms,
		"parking":       listing.Parking,
		"furnished":     listing.Furnished,
		"offer":         listing.Offer,
		"regular_price": listing.RegularPrice,
		"location":      listing.Location,
		"geolocation":   listing.Geolocation,
		"image_urls":    listing.ImageURLs,
		"image_keys":    listing.ImageKeys,
		"timestamp":     listing.Timestamp,
	}
	update := bson.M{"$set": set}
	if listing.DiscountedPrice != nil {
		set["discounted_price"] = *listing.DiscountedPrice
	} else {
		update["$unset"] = bson.M{"discounted_price": ""}
	}

	filter := bson.M{"_id": listing.ID, "user_ref": listing.UserRef}
	result, err := s.db.Collection(db.ListingsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return apperr.Transport("update listing", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("listing %s not found or not owned by user: %w", listing.ID.Hex(), apperr.ErrNotFound)
	}
	s.invalidate(ctx)
	return nil
}

// Recommended returns the n most recent listings, served from cache when possible.
func (s *listingService) Recommended(ctx context.Context, n int) ([]models.Listing, error) {
	var version int64
	cacheable := false
	if s.cache != nil {
		listings, v, ok, err := s.cache.GetRecommended(ctx, n)
		if err != nil {
			logrus.WithError(err).Warn("Recommended listings cache read failed")
		} else if ok {
			return listings, nil
		} else {
			version, cacheable = v, true
		}
	}

	page, err := s.FetchPage(ctx, ListingQuery{Limit: n})
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.SetRecommended(ctx, version, n, page.Items); err != nil {
			logrus.WithError(err).Warn("Recommended listings cache write failed")
		}
	}
	return page.Items, nil
}

func (s *listingService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate listing cache")
	}
}
