// store/memory.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cache_errors "github.com/vagasapp/cachecore/errors"
	logger "github.com/vagasapp/cachecore/logging"
	"github.com/vagasapp/cachecore/metrics"
	"github.com/vagasapp/cachecore/model"
)

// Memory backs the Store contract without persistence, used when the durable
// layer is disabled in a constrained environment. Same TTL, budget, and
// scoping semantics as Bolt; entries simply do not survive a restart.
type Memory struct {
	opts Options

	mu         sync.Mutex
	entries    map[string]*model.CacheEntry
	index      map[string]*indexEntry
	totalBytes int64
}

func NewMemory(opts Options) *Memory {
	metrics.Init()
	return &Memory{
		opts:    opts.withDefaults(),
		entries: make(map[string]*model.CacheEntry),
		index:   make(map[string]*indexEntry),
	}
}

func (m *Memory) Set(ctx context.Context, key string, data any, opts SetOptions) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	now := m.opts.Now()
	entry := &model.CacheEntry{
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
		entry.TTL = m.opts.DefaultTTL
	}

	if entry.SizeBytes > m.opts.entryCap() {
		logger.Warn("Rejecting oversized cache entry",
			zap.String("key", key),
			zap.Int64("sizeBytes", entry.SizeBytes),
			zap.Int64("capBytes", m.opts.entryCap()))
		return cache_errors.ErrEntryTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	projected := m.totalBytes + entry.SizeBytes
	if prev, ok := m.index[key]; ok {
		projected -= prev.size
	}
	if projected > m.opts.BudgetBytes {
		scratch := make(map[string]*indexEntry, len(m.index))
		for k, e := range m.index {
			if k == key {
				continue
			}
			scratch[k] = e
		}
		for _, k := range victims(scratch, projected-m.opts.BudgetBytes, now) {
			m.deleteLocked(k)
			metrics.Evictions.WithLabelValues("store", "budget").Inc()
		}
	}

	if prev, ok := m.index[key]; ok {
		m.totalBytes -= prev.size
	}
	m.entries[key] = entry
	m.index[key] = &indexEntry{
		key:        key,
		scope:      entry.OwnerScope,
		size:       entry.SizeBytes,
		createdAt:  entry.CreatedAt,
		lastAccess: entry.LastAccess,
		ttl:        entry.TTL,
	}
	m.totalBytes += entry.SizeBytes
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	now := m.opts.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues("store").Inc()
		return nil, false, nil
	}
	if entry.Expired(now) {
		m.deleteLocked(key)
		metrics.CacheMisses.WithLabelValues("store").Inc()
		return nil, false, nil
	}

	entry.Touch(now)
	idx := m.index[key]
	idx.lastAccess = now
	idx.accessCount++
	metrics.CacheHits.WithLabelValues("store").Inc()
	return entry.Data, true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
	return nil
}

func (m *Memory) deleteLocked(key string) {
	if prev, ok := m.index[key]; ok {
		m.totalBytes -= prev.size
		delete(m.index, key)
		delete(m.entries, key)
	}
}

func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	now := m.opts.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k, e := range m.index {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) ClearScope(ctx context.Context, ownerScope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []string
	for k, e := range m.index {
		if e.scope == ownerScope {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		m.deleteLocked(k)
	}
	return nil
}

func (m *Memory) Metrics() model.StoreStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.StoreStats{Entries: len(m.index), TotalBytes: m.totalBytes}
}

func (m *Memory) Cleanup(ctx context.Context) (int, error) {
	now := m.opts.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var doomed []string
	for k, e := range m.index {
		if e.expired(now) {
			doomed = append(doomed, k)
		}
	}
	for _, k := range doomed {
		m.deleteLocked(k)
		metrics.Evictions.WithLabelValues("store", "expired").Inc()
	}
	return len(doomed), nil
}

func (m *Memory) Close() error {
	return nil
}
