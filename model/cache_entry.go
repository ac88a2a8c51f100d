// model/cache_entry.go
package model

import (
	"encoding/json"
	"time"
)

// CacheEntry is the unit persisted by the durable store. Data is kept as raw
// JSON so the store never depends on consumer types.
type CacheEntry struct {
	ID          string          `json:"id"`
	Key         string          `json:"key"`
	Data        json.RawMessage `json:"data"`
	OwnerScope  string          `json:"owner_scope,omitempty"` // empty means shared across users
	CreatedAt   time.Time       `json:"created_at"`
	TTL         time.Duration   `json:"ttl"`
	Version     int             `json:"version"`
	LastAccess  time.Time       `json:"last_access"`
	AccessCount int64           `json:"access_count"`
	SizeBytes   int64           `json:"size_bytes"`
}

// Expired reports whether the entry's TTL has elapsed. TTL counts from
// creation, not from last access, so staleness is bounded deterministically.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// Touch records a read. CreatedAt is deliberately untouched.
func (e *CacheEntry) Touch(now time.Time) {
	e.LastAccess = now
	e.AccessCount++
}
