// store/bolt.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	cache_errors "github.com/vagasapp/cachecore/errors"
	logger "github.com/vagasapp/cachecore/logging"
	"github.com/vagasapp/cachecore/metrics"
	"github.com/vagasapp/cachecore/model"
)

var entriesBucket = []byte("entries")

// Bolt is the durable store backed by an embedded bbolt database. All
// eviction and expiry decisions run off an in-memory index rebuilt from the
// database at open time; each Set/Get/Delete is one atomic transaction.
type Bolt struct {
	db   *bolt.DB
	opts Options

	mu         sync.Mutex
	index      map[string]*indexEntry
	totalBytes int64
}

// NewBolt opens (or creates) the database at path and rebuilds the index.
func NewBolt(path string, opts Options) (*Bolt, error) {
	metrics.Init()

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}

	b := &Bolt{
		db:    db,
		opts:  opts.withDefaults(),
		index: make(map[string]*indexEntry),
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(entriesBucket)
		if err != nil {
			return err
		}
		return bkt.ForEach(func(k, v []byte) error {
			var entry model.CacheEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				logger.Warn("Dropping undecodable store entry",
					zap.String("key", string(k)), zap.Error(err))
				return bkt.Delete(k)
			}
			b.indexPut(&entry)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to rebuild store index: %w", err)
	}

	logger.Info("Durable store opened",
		zap.String("path", path),
		zap.Int("entries", len(b.index)),
		zap.Int64("totalBytes", b.totalBytes))
	return b, nil
}

func (b *Bolt) indexPut(entry *model.CacheEntry) {
	if prev, ok := b.index[entry.Key]; ok {
		b.totalBytes -= prev.size
	}
	b.index[entry.Key] = &indexEntry{
		key:         entry.Key,
		scope:       entry.OwnerScope,
		size:        entry.SizeBytes,
		createdAt:   entry.CreatedAt,
		lastAccess:  entry.LastAccess,
		accessCount: entry.AccessCount,
		ttl:         entry.TTL,
	}
	b.totalBytes += entry.SizeBytes
}

func (b *Bolt) indexDelete(key string) {
	if prev, ok := b.index[key]; ok {
		b.totalBytes -= prev.size
		delete(b.index, key)
	}
}

// Set stores data under key, evicting as needed to honor the size budget.
func (b *Bolt) Set(ctx context.Context, key string, data any, opts SetOptions) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	now := b.opts.Now()
	entry := model.CacheEntry{
		ID:         uuid.New().String(),
		Key:        key,
		Data:       raw,
		OwnerScope: opts.OwnerScope,
		CreatedAt:  now,
		TTL:        opts.TTL,
		Version:    1,
		LastAccess: now,
		SizeBytes:  int64(len(key) + len(raw)),
	}
	if entry.TTL <= 0 {
		entry.TTL = b.opts.DefaultTTL
	}

	if entry.SizeBytes > b.opts.entryCap() {
		logger.Warn("Rejecting oversized cache entry",
			zap.String("key", key),
			zap.Int64("sizeBytes", entry.SizeBytes),
			zap.Int64("capBytes", b.opts.entryCap()))
		return cache_errors.ErrEntryTooLarge
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Replacing an entry frees its bytes first.
	projected := b.totalBytes + entry.SizeBytes
	if prev, ok := b.index[key]; ok {
		projected -= prev.size
	}

	var evict []string
	if projected > b.opts.BudgetBytes {
		scratch := make(map[string]*indexEntry, len(b.index))
		for k, e := range b.index {
			if k == key {
				continue
			}
			scratch[k] = e
		}
		evict = victims(scratch, projected-b.opts.BudgetBytes, now)
	}

	encoded, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(entriesBucket)
		for _, k := range evict {
			if err := bkt.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return bkt.Put([]byte(key), encoded)
	})
	if err != nil {
		logger.Error("Durable store write failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	for _, k := range evict {
		b.indexDelete(k)
		metrics.Evictions.WithLabelValues("store", "budget").Inc()
	}
	b.indexPut(&entry)

	logger.Debug("Cache entry stored",
		zap.String("key", key),
		zap.Int64("sizeBytes", entry.SizeBytes),
		zap.Int("evicted", len(evict)))
	return nil
}

// Get returns entry data or a miss. I/O failures degrade to a miss so the
// caller falls through to the remote fetch.
func (b *Bolt) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	now := b.opts.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.index[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues("store").Inc()
		return nil, false, nil
	}
	if idx.expired(now) {
		b.deleteLocked(key)
		metrics.CacheMisses.WithLabelValues("store").Inc()
		logger.Debug("Cache entry expired", zap.String("key", key))
		return nil, false, nil
	}

	var entry model.CacheEntry
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(entriesBucket)
		v := bkt.Get([]byte(key))
		if v == nil {
			return cache_errors.ErrInvalidCacheData
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		entry.Touch(now)
		encoded, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(key), encoded)
	})
	if err != nil {
		// Treat read failures as a miss; the remote is the fallback.
		logger.Error("Durable store read failed", zap.String("key", key), zap.Error(err))
		b.deleteLocked(key)
		metrics.CacheMisses.WithLabelValues("store").Inc()
		return nil, false, nil
	}

	idx.lastAccess = now
	idx.accessCount++
	metrics.CacheHits.WithLabelValues("store").Inc()
	return entry.Data, true, nil
}

// Delete removes an entry if present.
func (b *Bolt) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteLocked(key)
}

func (b *Bolt) deleteLocked(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(key))
	})
	if err != nil {
		logger.Error("Durable store delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	b.indexDelete(key)
	return nil
}

// Keys returns live (non-expired) keys with the given prefix.
func (b *Bolt) Keys(ctx context.Context, prefix string) ([]string, error) {
	now := b.opts.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k, e := range b.index {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// ClearScope removes every entry owned by the given scope.
func (b *Bolt) ClearScope(ctx context.Context, ownerScope string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var doomed []string
	for k, e := range b.index {
		if e.scope == ownerScope {
			doomed = append(doomed, k)
		}
	}
	if len(doomed) == 0 {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(entriesBucket)
		for _, k := range doomed {
			if err := bkt.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear scope %q: %w", ownerScope, err)
	}
	for _, k := range doomed {
		b.indexDelete(k)
	}

	logger.Info("Cleared owner scope",
		zap.String("ownerScope", ownerScope),
		zap.Int("entries", len(doomed)))
	return nil
}

// Metrics reports entry count and total stored bytes.
func (b *Bolt) Metrics() model.StoreStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.StoreStats{Entries: len(b.index), TotalBytes: b.totalBytes}
}

// Cleanup sweeps expired entries.
func (b *Bolt) Cleanup(ctx context.Context) (int, error) {
	now := b.opts.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var doomed []string
	for k, e := range b.index {
		if e.expired(now) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		if err := b.deleteLocked(k); err != nil {
			return 0, err
		}
		metrics.Evictions.WithLabelValues("store", "expired").Inc()
	}
	if len(doomed) > 0 {
		logger.Debug("Swept expired entries", zap.Int("count", len(doomed)))
	}
	return len(doomed), nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
