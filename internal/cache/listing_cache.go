package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"greendrake/housemarket/internal/models"
)

const (
	recommendedVersionKey = "listings:version"
	recommendedKeyFormat  = "listings:recommended:v%d:%d"
)

// ListingCache caches the recommended-listings slider. Every listing write bumps a
// version counter so stale entries are never read again and simply expire.
type ListingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewListingCache creates a ListingCache.
func NewListingCache(rdb *redis.Client, ttl time.Duration) *ListingCache {
	return &ListingCache{rdb: rdb, ttl: ttl}
}

func (c *ListingCache) version(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, recommendedVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// GetRecommended returns the cached slider for n items, if present, along with the cache
// version it was looked up under. On a miss that version must be handed back to
// SetRecommended so a fill racing a listing write never lands under the new version.
func (c *ListingCache) GetRecommended(ctx context.Context, n int) ([]models.Listing, int64, bool, error) {
	v, err := c.version(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read listing cache version: %w", err)
	}
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(recommendedKeyFormat, v, n)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, v, false, nil
	}
	if err != nil {
		return nil, v, false, fmt.Errorf("failed to read recommended listings from cache: %w", err)
	}
	var listings []models.Listing
	if err := json.Unmarshal(raw, &listings); err != nil {
		return nil, v, false, fmt.Errorf("failed to decode cached listings: %w", err)
	}
	return listings, v, true, nil
}

// SetRecommended stores the slider for n items under version v. A snapshot taken before
// an invalidation is written under the old version and is never read.
func (c *ListingCache) SetRecommended(ctx context.Context, v int64, n int, listings []models.Listing) error {
	raw, err := json.Marshal(listings)
	if err != nil {
		return fmt.Errorf("failed to encode listings for cache: %w", err)
	}
	if err := c.rdb.Set(ctx, fmt.Sprintf(recommendedKeyFormat, v, n), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache recommended listings: %w", err)
	}
	return nil
}

// Invalidate drops every cached slider.
func (c *ListingCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, recommendedVersionKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate listing cache: %w", err)
	}
	return nil
}
