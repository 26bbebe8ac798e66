// Package feed keeps the client-side state of a paginated listing view.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"greendrake/housemarket/internal/models"
	"greendrake/housemarket/internal/services"
)

var (
	// ErrDetached is returned when the view was detached while a fetch was in flight.
	ErrDetached = errors.New("feed detached")
	// ErrStale is returned when a newer Load restarted the feed while a fetch was in
	// flight. The feed is still live; its current state is the newer one.
	ErrStale = errors.New("feed result superseded")
)

// PageFetcher returns one page of listings.
type PageFetcher interface {
	FetchPage(ctx context.Context, q services.ListingQuery) (*services.ListingPage, error)
}

// Feed accumulates pages of one category. A fetch that completes after Load restarted
// the feed or Detach was called is discarded.
type Feed struct {
	fetcher PageFetcher
	query   services.ListingQuery

	mu         sync.Mutex
	items      []models.Listing
	nextCursor string
	loaded     bool
	generation uint64
	detached   bool
}

// New creates a feed for the given filters. Cursor on query is ignored.
func New(fetcher PageFetcher, query services.ListingQuery) *Feed {
	query.Cursor = ""
	return &Feed{fetcher: fetcher, query: query}
}

// Load fetches the first page, replacing anything already shown.
func (f *Feed) Load(ctx context.Context) ([]models.Listing, error) {
	f.mu.Lock()
	if f.detached {
		f.mu.Unlock()
		return nil, ErrDetached
	}
	f.generation++
	gen := f.generation
	q := f.query
	f.mu.Unlock()

	page, err := f.fetcher.FetchPage(ctx, q)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.superseded(gen); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	f.items = append([]models.Listing(nil), page.Items...)
	f.nextCursor = page.NextCursor
	f.loaded = true
	return f.snapshot(), nil
}

// LoadMore appends the next page. It is a no-op when CanLoadMore is false.
func (f *Feed) LoadMore(ctx context.Context) ([]models.Listing, error) {
	f.mu.Lock()
	if f.detached {
		f.mu.Unlock()
		return nil, ErrDetached
	}
	if !f.loaded || f.nextCursor == "" {
		items := f.snapshot()
		f.mu.Unlock()
		return items, nil
	}
	gen := f.generation
	q := f.query
	q.Cursor = f.nextCursor
	f.mu.Unlock()

	page, err := f.fetcher.FetchPage(ctx, q)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.superseded(gen); err != nil {
		return nil, err
	}
	if q.Cursor != f.nextCursor {
		// An overlapping LoadMore already appended this page.
		return f.snapshot(), nil
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(f.items))
	for _, l := range f.items {
		seen[l.ID.Hex()] = struct{}{}
	}
	for _, l := range page.Items {
		if _, dup := seen[l.ID.Hex()]; dup {
			logrus.WithField("listing_id", l.ID.Hex()).Warn("Duplicate listing in page; skipping")
			continue
		}
		f.items = append(f.items, l)
	}
	f.nextCursor = page.NextCursor
	return f.snapshot(), nil
}

// CanLoadMore reports whether another page may exist.
func (f *Feed) CanLoadMore() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded && !f.detached && f.nextCursor != ""
}

// Items returns a copy of the listings shown so far.
func (f *Feed) Items() []models.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

// Detach stops the feed from accepting results of in-flight fetches.
func (f *Feed) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = true
	f.generation++
}

// superseded must be called with mu held.
func (f *Feed) superseded(gen uint64) error {
	if f.detached {
		return ErrDetached
	}
	if gen != f.generation {
		return ErrStale
	}
	return nil
}

func (f *Feed) snapshot() []models.Listing {
	return append([]models.Listing(nil), f.items...)
}
