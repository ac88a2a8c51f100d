// model/stats.go
package model

// StoreStats is returned by the durable store's Metrics call.
type StoreStats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

// PermissionStats summarizes the permission cache.
type PermissionStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Denied  int64 `json:"denied"`
}

// QueueStats summarizes the offline operation queue by status.
type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// PageStats summarizes a page-window cache instance.
type PageStats struct {
	CachedPages int   `json:"cached_pages"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
}

// Stats aggregates all layers for GetStats.
type Stats struct {
	Store       StoreStats      `json:"store"`
	Permissions PermissionStats `json:"permissions"`
	Queue       QueueStats      `json:"queue"`
}
