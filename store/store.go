// store/store.go

// Package store implements the durable key-record table every higher cache
// layer sits on: TTL expiry, a total size budget with age/access-weighted
// eviction, and per-user owner scoping.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vagasapp/cachecore/model"
)

// Store is the durable store contract. Bolt persists across restarts;
// Memory backs the same contract when persistence is disabled.
type Store interface {
	// Set inserts or replaces an entry, evicting lower-priority entries
	// first if the size budget would be exceeded. Entries larger than the
	// per-entry cap are rejected with ErrEntryTooLarge.
	Set(ctx context.Context, key string, data any, opts SetOptions) error

	// Get returns the raw entry data, or a miss if absent or expired.
	// Expired entries are deleted on the way out. A hit refreshes
	// last-access bookkeeping but never the TTL clock.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)

	// Delete removes an entry if present.
	Delete(ctx context.Context, key string) error

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// ClearScope removes every entry owned by the given scope.
	ClearScope(ctx context.Context, ownerScope string) error

	// Metrics reports entry count and total stored bytes.
	Metrics() model.StoreStats

	// Cleanup sweeps expired entries and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)

	Close() error
}

// SetOptions carries per-entry settings for Set.
type SetOptions struct {
	TTL        time.Duration
	OwnerScope string
}

// Options configures a store instance.
type Options struct {
	// BudgetBytes is the total size budget. Zero means the default.
	BudgetBytes int64

	// EntryCapRatio is the fraction of the budget a single entry may
	// occupy. Zero means the default of 0.10.
	EntryCapRatio float64

	// DefaultTTL applies when SetOptions.TTL is zero.
	DefaultTTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

const (
	defaultBudgetBytes   = 50 * 1024 * 1024
	defaultEntryCapRatio = 0.10
	defaultTTL           = 10 * time.Minute
)

func (o *Options) withDefaults() Options {
	out := *o
	if out.BudgetBytes <= 0 {
		out.BudgetBytes = defaultBudgetBytes
	}
	if out.EntryCapRatio <= 0 {
		out.EntryCapRatio = defaultEntryCapRatio
	}
	if out.DefaultTTL <= 0 {
		out.DefaultTTL = defaultTTL
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

func (o Options) entryCap() int64 {
	return int64(float64(o.BudgetBytes) * o.EntryCapRatio)
}
