package feed

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"greendrake/housemarket/internal/models"
	"greendrake/housemarket/internal/services"
)

// memFetcher pages an in-memory slice the same way the store does.
type memFetcher struct {
	listings []models.Listing
	gate     chan struct{}
	calls    int
	err      error
	// onFetch runs once, inside the next fetch.
	onFetch func()
}

func (m *memFetcher) FetchPage(ctx context.Context, q services.ListingQuery) (*services.ListingPage, error) {
	m.calls++
	if hook := m.onFetch; hook != nil {
		m.onFetch = nil
		hook()
	}
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}

	var matched []models.Listing
	for _, l := range m.listings {
		if q.Offer != nil && l.Offer != *q.Offer {
			continue
		}
		matched = append(matched, l)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID.Hex() > matched[j].ID.Hex()
	})

	start := 0
	if q.Cursor != "" {
		ts, id, err := services.DecodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		for start < len(matched) {
			l := matched[start]
			if l.Timestamp.Before(ts) || (l.Timestamp.Equal(ts) && l.ID.Hex() < id.Hex()) {
				break
			}
			start++
		}
	}

	rest := matched[start:]
	page := &services.ListingPage{Items: rest}
	if len(rest) > q.Limit {
		page.Items = rest[:q.Limit]
		page.NextCursor = services.EncodeCursor(&page.Items[q.Limit-1])
	}
	return page, nil
}

func seed(offers, others int) []models.Listing {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var out []models.Listing
	for i := 0; i < offers+others; i++ {
		l := models.Listing{Offer: i < offers, Timestamp: base.Add(time.Duration(i%4) * time.Minute)}
		l.ID = primitive.NewObjectID()
		out = append(out, l)
	}
	return out
}

func TestFeed_OffersPagination(t *testing.T) {
	offer := true
	f := New(&memFetcher{listings: seed(10, 2)}, services.ListingQuery{Offer: &offer, Limit: 10})

	items, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 10)
	for _, l := range items {
		assert.True(t, l.Offer)
	}
	assert.False(t, f.CanLoadMore())
}

func TestFeed_LoadMoreHasNoDuplicates(t *testing.T) {
	fetcher := &memFetcher{listings: seed(23, 0)}
	f := New(fetcher, services.ListingQuery{Limit: 5})

	_, err := f.Load(context.Background())
	require.NoError(t, err)
	for f.CanLoadMore() {
		_, err := f.LoadMore(context.Background())
		require.NoError(t, err)
	}

	items := f.Items()
	require.Len(t, items, 23)
	ids := map[primitive.ObjectID]bool{}
	for i, l := range items {
		assert.False(t, ids[l.ID], "duplicate %s", l.ID.Hex())
		ids[l.ID] = true
		if i > 0 {
			assert.False(t, l.Timestamp.After(items[i-1].Timestamp), "not newest first at %d", i)
		}
	}
	assert.Equal(t, 5, fetcher.calls)
}

func TestFeed_LoadMoreBeforeLoadIsNoop(t *testing.T) {
	fetcher := &memFetcher{listings: seed(3, 0)}
	f := New(fetcher, services.ListingQuery{Limit: 2})

	items, err := f.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, fetcher.calls)
}

func TestFeed_DetachDiscardsLateResult(t *testing.T) {
	fetcher := &memFetcher{listings: seed(3, 0), gate: make(chan struct{})}
	f := New(fetcher, services.ListingQuery{Limit: 2})

	done := make(chan error, 1)
	go func() {
		_, err := f.Load(context.Background())
		done <- err
	}()

	// Give Load a chance to start before detaching.
	time.Sleep(10 * time.Millisecond)
	f.Detach()
	close(fetcher.gate)

	assert.ErrorIs(t, <-done, ErrDetached)
	assert.Empty(t, f.Items())
	assert.False(t, f.CanLoadMore())
}

func TestFeed_FetchErrorKeepsItems(t *testing.T) {
	fetcher := &memFetcher{listings: seed(4, 0)}
	f := New(fetcher, services.ListingQuery{Limit: 2})
	_, err := f.Load(context.Background())
	require.NoError(t, err)

	fetcher.err = errors.New("network down")
	_, err = f.LoadMore(context.Background())
	assert.Error(t, err)
	assert.Len(t, f.Items(), 2)
	assert.True(t, f.CanLoadMore())
}

func TestFeed_OverlappingLoadMoreKeepsFeedLive(t *testing.T) {
	fetcher := &memFetcher{listings: seed(6, 0)}
	f := New(fetcher, services.ListingQuery{Limit: 2})
	_, err := f.Load(context.Background())
	require.NoError(t, err)

	var innerErr error
	fetcher.onFetch = func() { _, innerErr = f.LoadMore(context.Background()) }

	items, err := f.LoadMore(context.Background())
	require.NoError(t, err)
	require.NoError(t, innerErr)
	assert.Len(t, items, 4, "the overlapping call's page is appended once")
	assert.Len(t, f.Items(), 4)
	assert.True(t, f.CanLoadMore())
}

func TestFeed_LoadSupersededByNewerLoad(t *testing.T) {
	fetcher := &memFetcher{listings: seed(3, 0)}
	f := New(fetcher, services.ListingQuery{Limit: 2})

	var innerErr error
	fetcher.onFetch = func() { _, innerErr = f.Load(context.Background()) }

	_, err := f.Load(context.Background())
	assert.ErrorIs(t, err, ErrStale)
	assert.NotErrorIs(t, err, ErrDetached)
	require.NoError(t, innerErr)
	assert.Len(t, f.Items(), 2)
	assert.True(t, f.CanLoadMore())
}
