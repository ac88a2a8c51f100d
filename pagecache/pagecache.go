// pagecache/pagecache.go

// Package pagecache caches fixed-size pages of a filtered, ordered
// collection and prefetches a window of neighboring pages so paged list
// views can scroll without re-fetching every page.
package pagecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cache_errors "github.com/vagasapp/cachecore/errors"
	logger "github.com/vagasapp/cachecore/logging"
	"github.com/vagasapp/cachecore/metrics"
	"github.com/vagasapp/cachecore/model"
)

// Result is what a page load produces, cache hit or not.
type Result[T any] struct {
	Items      []T
	TotalCount int
	HasNext    bool
	HasPrev    bool
}

// Fetcher loads one page from the remote collection. Supplied by the host;
// the cache never knows the transport.
type Fetcher[T any] func(ctx context.Context, page, pageSize int, filters map[string]any) (Result[T], error)

// Options configures a page cache instance.
type Options[T any] struct {
	PageSize       int
	PreloadPages   int
	MaxCachedPages int
	TTL            time.Duration
	Fetcher        Fetcher[T]

	// KeyFn extracts the identity of an item, used by UpdateItem,
	// RemoveItem, and AddItem to locate records inside cached pages.
	KeyFn func(T) string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

type pageEntry[T any] struct {
	meta  model.PageMeta
	items []T
}

// prefetchState makes the single-in-flight contract explicit.
type prefetchState int

const (
	prefetchIdle prefetchState = iota
	prefetchRunning
)

// Cache is a page-window cache over one remote collection.
type Cache[T any] struct {
	opts Options[T]

	mu        sync.Mutex
	entries   map[string]*pageEntry[T] // signature#page -> entry
	current   int
	filters   map[string]any
	signature string
	total     int
	state     prefetchState

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a page cache. Fetcher is required; zero options fall back to
// page size 10, 20 cached pages, and a 5 minute TTL. PreloadPages of zero
// disables the prefetch window.
func New[T any](opts Options[T]) *Cache[T] {
	metrics.Init()
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.PreloadPages < 0 {
		opts.PreloadPages = 0
	}
	if opts.MaxCachedPages <= 0 {
		opts.MaxCachedPages = 20
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[T]{
		opts:    opts,
		entries: make(map[string]*pageEntry[T]),
		current: 1,
	}
}

func pageKey(signature string, page int) string {
	return fmt.Sprintf("%s#%d", signature, page)
}

// GetPage returns the requested page, serving from cache when a fresh entry
// exists and fetching otherwise. Every successful load schedules a window
// prefetch of the neighboring pages.
func (c *Cache[T]) GetPage(ctx context.Context, page int, filters map[string]any) (Result[T], error) {
	if page < 1 {
		return Result[T]{}, cache_errors.ErrPageOutOfRange
	}

	sig := Signature(filters, c.opts.PageSize)

	c.mu.Lock()
	if entry, ok := c.entries[pageKey(sig, page)]; ok && !c.expiredLocked(entry) {
		res := entry.result()
		c.current = page
		c.filters = filters
		c.signature = sig
		c.total = entry.meta.TotalCount
		c.mu.Unlock()

		c.hits.Add(1)
		metrics.CacheHits.WithLabelValues("pages").Inc()
		c.schedulePrefetch(page, filters, sig)
		return res, nil
	}
	c.mu.Unlock()

	c.misses.Add(1)
	metrics.CacheMisses.WithLabelValues("pages").Inc()

	res, err := c.opts.Fetcher(ctx, page, c.opts.PageSize, filters)
	if err != nil {
		return Result[T]{}, fmt.Errorf("%w: page %d: %v", cache_errors.ErrRemoteFetch, page, err)
	}

	c.mu.Lock()
	c.storeLocked(sig, page, res)
	c.current = page
	c.filters = filters
	c.signature = sig
	c.total = res.TotalCount
	c.mu.Unlock()

	c.schedulePrefetch(page, filters, sig)
	return res, nil
}

// NextPage advances to the following page. Fails fast when the current page
// reports no successor.
func (c *Cache[T]) NextPage(ctx context.Context) (Result[T], error) {
	c.mu.Lock()
	entry, ok := c.entries[pageKey(c.signature, c.current)]
	page := c.current
	filters := c.filters
	c.mu.Unlock()

	if ok && !entry.meta.HasNext {
		return Result[T]{}, cache_errors.ErrNoNextPage
	}
	return c.GetPage(ctx, page+1, filters)
}

// PrevPage steps back one page. Fails fast on the first page.
func (c *Cache[T]) PrevPage(ctx context.Context) (Result[T], error) {
	c.mu.Lock()
	entry, ok := c.entries[pageKey(c.signature, c.current)]
	page := c.current
	filters := c.filters
	c.mu.Unlock()

	if page <= 1 || (ok && !entry.meta.HasPrev) {
		return Result[T]{}, cache_errors.ErrNoPrevPage
	}
	return c.GetPage(ctx, page-1, filters)
}

// GoToPage jumps to an arbitrary page, validating against the known total.
func (c *Cache[T]) GoToPage(ctx context.Context, page int) (Result[T], error) {
	c.mu.Lock()
	totalPages := c.totalPagesLocked()
	filters := c.filters
	c.mu.Unlock()

	if page < 1 || (totalPages > 0 && page > totalPages) {
		return Result[T]{}, cache_errors.ErrPageOutOfRange
	}
	return c.GetPage(ctx, page, filters)
}

func (c *Cache[T]) totalPagesLocked() int {
	if c.total <= 0 {
		return 0
	}
	return (c.total + c.opts.PageSize - 1) / c.opts.PageSize
}

// Invalidate drops cached pages. With filters it drops only that filter
// signature; without, the whole cache.
func (c *Cache[T]) Invalidate(filters ...map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(filters) == 0 {
		c.entries = make(map[string]*pageEntry[T])
		logger.Debug("Page cache cleared")
		return
	}

	sig := Signature(filters[0], c.opts.PageSize)
	for key, entry := range c.entries {
		if entry.meta.FilterSignature == sig {
			delete(c.entries, key)
		}
	}
	logger.Debug("Page cache invalidated", zap.String("signature", sig))
}

// UpdateItem applies patch to the matching item in every cached page that
// contains it, refreshing each touched page's timestamp. The page layout is
// preserved so scroll position survives a single-record edit.
func (c *Cache[T]) UpdateItem(id string, patch func(T) T) {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		for i, item := range entry.items {
			if c.opts.KeyFn(item) == id {
				entry.items[i] = patch(item)
				entry.meta.CreatedAt = now
			}
		}
	}
}

// RemoveItem removes the item from every cached page containing it and
// decrements the cached total counts for the affected filter signatures.
func (c *Cache[T]) RemoveItem(id string) {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	touched := make(map[string]bool)
	for _, entry := range c.entries {
		kept := entry.items[:0]
		removed := false
		for _, item := range entry.items {
			if c.opts.KeyFn(item) == id {
				removed = true
				continue
			}
			kept = append(kept, item)
		}
		if removed {
			entry.items = kept
			entry.meta.CreatedAt = now
			touched[entry.meta.FilterSignature] = true
		}
	}
	for _, entry := range c.entries {
		if touched[entry.meta.FilterSignature] && entry.meta.TotalCount > 0 {
			entry.meta.TotalCount--
		}
	}
	if touched[c.signature] && c.total > 0 {
		c.total--
	}
}

// AddItem prepends the item to the first cached page of the current filter
// signature and bumps the total counts under that signature.
func (c *Cache[T]) AddItem(item T) {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	first, ok := c.entries[pageKey(c.signature, 1)]
	if ok {
		first.items = append([]T{item}, first.items...)
		if len(first.items) > c.opts.PageSize {
			first.items = first.items[:c.opts.PageSize]
		}
		first.meta.CreatedAt = now
	}
	for _, entry := range c.entries {
		if entry.meta.FilterSignature == c.signature {
			entry.meta.TotalCount++
		}
	}
	c.total++
}

// Stats reports cached page count and hit/miss counters.
func (c *Cache[T]) Stats() model.PageStats {
	c.mu.Lock()
	pages := len(c.entries)
	c.mu.Unlock()
	return model.PageStats{
		CachedPages: pages,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
	}
}

func (c *Cache[T]) expiredLocked(entry *pageEntry[T]) bool {
	return c.opts.Now().Sub(entry.meta.CreatedAt) >= c.opts.TTL
}

func (e *pageEntry[T]) result() Result[T] {
	items := make([]T, len(e.items))
	copy(items, e.items)
	return Result[T]{
		Items:      items,
		TotalCount: e.meta.TotalCount,
		HasNext:    e.meta.HasNext,
		HasPrev:    e.meta.HasPrev,
	}
}

// storeLocked caches a fetched page and evicts the globally oldest entry by
// creation time when the page budget is exceeded, regardless of signature.
func (c *Cache[T]) storeLocked(sig string, page int, res Result[T]) {
	items := make([]T, len(res.Items))
	copy(items, res.Items)
	c.entries[pageKey(sig, page)] = &pageEntry[T]{
		meta: model.PageMeta{
			PageNumber:      page,
			FilterSignature: sig,
			TotalCount:      res.TotalCount,
			HasNext:         res.HasNext,
			HasPrev:         res.HasPrev,
			CreatedAt:       c.opts.Now(),
		},
		items: items,
	}

	for len(c.entries) > c.opts.MaxCachedPages {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.meta.CreatedAt.Before(oldest) {
				oldestKey = key
				oldest = entry.meta.CreatedAt
			}
		}
		delete(c.entries, oldestKey)
		metrics.Evictions.WithLabelValues("pages", "budget").Inc()
	}
}

// schedulePrefetch kicks off a background load of the ±PreloadPages window.
// A state machine keeps at most one prefetch in flight; repeated navigation
// does not fan out unbounded fetches.
func (c *Cache[T]) schedulePrefetch(page int, filters map[string]any, sig string) {
	if c.opts.PreloadPages == 0 {
		return
	}

	c.mu.Lock()
	if c.state == prefetchRunning {
		c.mu.Unlock()
		return
	}
	c.state = prefetchRunning
	c.mu.Unlock()

	go c.prefetch(page, filters, sig)
}

func (c *Cache[T]) prefetch(page int, filters map[string]any, sig string) {
	defer func() {
		c.mu.Lock()
		c.state = prefetchIdle
		c.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(2)

	for offset := 1; offset <= c.opts.PreloadPages; offset++ {
		for _, candidate := range []int{page + offset, page - offset} {
			if candidate < 1 {
				continue
			}

			c.mu.Lock()
			entry, cached := c.entries[pageKey(sig, candidate)]
			fresh := cached && !c.expiredLocked(entry)
			totalPages := c.totalPagesLocked()
			c.mu.Unlock()

			if fresh || (totalPages > 0 && candidate > totalPages) {
				continue
			}

			candidate := candidate
			g.Go(func() error {
				res, err := c.opts.Fetcher(ctx, candidate, c.opts.PageSize, filters)
				if err != nil {
					// Prefetch errors are contained; the page will simply be
					// fetched on demand.
					logger.Debug("Page prefetch failed",
						zap.Int("page", candidate), zap.Error(err))
					return nil
				}

				c.mu.Lock()
				c.storeLocked(sig, candidate, res)
				c.mu.Unlock()
				return nil
			})
		}
	}

	_ = g.Wait()
}
