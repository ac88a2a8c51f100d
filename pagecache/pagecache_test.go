package pagecache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache_errors "github.com/vagasapp/cachecore/errors"
	"github.com/vagasapp/cachecore/pagecache"
)

type vaga struct {
	ID    string
	Title string
}

// collectionFetcher simulates a remote collection of `total` records and
// counts how many times each page is fetched.
type collectionFetcher struct {
	mu    sync.Mutex
	total int
	calls map[int]int
}

func newCollectionFetcher(total int) *collectionFetcher {
	return &collectionFetcher{total: total, calls: make(map[int]int)}
}

func (f *collectionFetcher) fetch(_ context.Context, page, pageSize int, _ map[string]any) (pagecache.Result[vaga], error) {
	f.mu.Lock()
	f.calls[page]++
	f.mu.Unlock()

	start := (page-1)*pageSize + 1
	var items []vaga
	for i := start; i <= f.total && i < start+pageSize; i++ {
		items = append(items, vaga{ID: fmt.Sprintf("v%d", i), Title: fmt.Sprintf("Vaga %d", i)})
	}
	return pagecache.Result[vaga]{
		Items:      items,
		TotalCount: f.total,
		HasNext:    start+pageSize <= f.total,
		HasPrev:    page > 1,
	}, nil
}

func (f *collectionFetcher) callsFor(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func newCache(f *collectionFetcher, preload int) *pagecache.Cache[vaga] {
	return pagecache.New(pagecache.Options[vaga]{
		PageSize:       10,
		PreloadPages:   preload,
		MaxCachedPages: 20,
		TTL:            time.Minute,
		Fetcher:        f.fetch,
		KeyFn:          func(v vaga) string { return v.ID },
	})
}

func TestPageCache(t *testing.T) {
	ctx := context.Background()

	t.Run("GetPage_CachesResult", func(t *testing.T) {
		f := newCollectionFetcher(30)
		c := newCache(f, 0)

		res, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)
		assert.Len(t, res.Items, 10)
		assert.Equal(t, "v1", res.Items[0].ID)
		assert.True(t, res.HasNext)
		assert.False(t, res.HasPrev)

		_, err = c.GetPage(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, f.callsFor(1), "second read must be served from cache")
	})

	t.Run("Prefetch_AvoidsSecondFetch", func(t *testing.T) {
		f := newCollectionFetcher(30)
		c := newCache(f, 1)

		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)

		// The neighbor page arrives in the background.
		assert.Eventually(t, func() bool {
			return f.callsFor(2) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Eventually(t, func() bool {
			return c.Stats().CachedPages == 2
		}, 2*time.Second, 10*time.Millisecond)

		res, err := c.NextPage(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v11", res.Items[0].ID)
		assert.Equal(t, 1, f.callsFor(2), "prefetched page must not be fetched again")
	})

	t.Run("NextPage_FailsFastAtEnd", func(t *testing.T) {
		f := newCollectionFetcher(10)
		c := newCache(f, 0)

		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)

		_, err = c.NextPage(ctx)
		assert.ErrorIs(t, err, cache_errors.ErrNoNextPage)
	})

	t.Run("PrevPage_FailsFastAtStart", func(t *testing.T) {
		f := newCollectionFetcher(30)
		c := newCache(f, 0)

		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)

		_, err = c.PrevPage(ctx)
		assert.ErrorIs(t, err, cache_errors.ErrNoPrevPage)
	})

	t.Run("GoToPage_ValidatesRange", func(t *testing.T) {
		f := newCollectionFetcher(30)
		c := newCache(f, 0)

		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)

		_, err = c.GoToPage(ctx, 0)
		assert.ErrorIs(t, err, cache_errors.ErrPageOutOfRange)

		_, err = c.GoToPage(ctx, 4)
		assert.ErrorIs(t, err, cache_errors.ErrPageOutOfRange)

		res, err := c.GoToPage(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "v21", res.Items[0].ID)
	})

	t.Run("UpdateItem_PatchesEveryCachedPage", func(t *testing.T) {
		f := newCollectionFetcher(30)
		c := newCache(f, 0)

		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)

		c.UpdateItem("v3", func(v vaga) vaga {
			v.Title = "Editada"
			return v
		})

		res, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, "Editada", res.Items[2].Title)
		assert.Equal(t, 1, f.callsFor(1), "edit must not invalidate the page")
	})

	t.Run("RemoveItem_AdjustsTotals", func(t *testing.T) {
		f := newCollectionFetcher(30)
		c := newCache(f, 0)

		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)

		c.RemoveItem("v5")

		res, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)
		assert.Len(t, res.Items, 9)
		assert.Equal(t, 29, res.TotalCount)
	})

	t.Run("AddItem_PrependsToFirstPage", func(t *testing.T) {
		f := newCollectionFetcher(30)
		c := newCache(f, 0)

		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)

		c.AddItem(vaga{ID: "v99", Title: "Nova"})

		res, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, "v99", res.Items[0].ID)
		assert.Len(t, res.Items, 10, "page size is preserved")
		assert.Equal(t, 31, res.TotalCount)
	})

	t.Run("Invalidate_ByFilterSignature", func(t *testing.T) {
		f := newCollectionFetcher(30)
		c := newCache(f, 0)

		openFilter := map[string]any{"status": "aberta"}
		_, err := c.GetPage(ctx, 1, openFilter)
		require.NoError(t, err)
		_, err = c.GetPage(ctx, 1, nil)
		require.NoError(t, err)
		require.Equal(t, 2, c.Stats().CachedPages)

		c.Invalidate(openFilter)
		assert.Equal(t, 1, c.Stats().CachedPages)

		c.Invalidate()
		assert.Equal(t, 0, c.Stats().CachedPages)
	})

	t.Run("Eviction_DropsGloballyOldestPage", func(t *testing.T) {
		now := time.Now()
		f := newCollectionFetcher(100)
		c := pagecache.New(pagecache.Options[vaga]{
			PageSize:       10,
			PreloadPages:   0,
			MaxCachedPages: 3,
			TTL:            time.Hour,
			Fetcher:        f.fetch,
			KeyFn:          func(v vaga) string { return v.ID },
			Now:            func() time.Time { return now },
		})

		for page := 1; page <= 4; page++ {
			now = now.Add(time.Second)
			_, err := c.GetPage(ctx, page, nil)
			require.NoError(t, err)
		}

		assert.Equal(t, 3, c.Stats().CachedPages)

		// Page 1 was the oldest and must have been evicted.
		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, f.callsFor(1))
	})

	t.Run("Expired_PageIsRefetched", func(t *testing.T) {
		now := time.Now()
		f := newCollectionFetcher(30)
		c := pagecache.New(pagecache.Options[vaga]{
			PageSize:       10,
			PreloadPages:   0,
			MaxCachedPages: 20,
			TTL:            time.Second,
			Fetcher:        f.fetch,
			KeyFn:          func(v vaga) string { return v.ID },
			Now:            func() time.Time { return now },
		})

		_, err := c.GetPage(ctx, 1, nil)
		require.NoError(t, err)

		now = now.Add(2 * time.Second)
		_, err = c.GetPage(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, f.callsFor(1))
	})
}

func TestSignature(t *testing.T) {
	t.Run("StableAcrossKeyOrder", func(t *testing.T) {
		a := pagecache.Signature(map[string]any{"status": "aberta", "area": "ti"}, 10)
		b := pagecache.Signature(map[string]any{"area": "ti", "status": "aberta"}, 10)
		assert.Equal(t, a, b)
	})

	t.Run("DistinguishesFiltersAndPageSize", func(t *testing.T) {
		a := pagecache.Signature(map[string]any{"status": "aberta"}, 10)
		b := pagecache.Signature(map[string]any{"status": "fechada"}, 10)
		c := pagecache.Signature(map[string]any{"status": "aberta"}, 20)
		assert.NotEqual(t, a, b)
		assert.NotEqual(t, a, c)
	})
}
