// model/page_entry.go
package model

import "time"

// PageMeta carries the pagination metadata common to every cached page.
// The items themselves live in the generic page cache; keeping the metadata
// here lets stats and tests talk about pages without the type parameter.
type PageMeta struct {
	PageNumber      int       `json:"page_number"`
	FilterSignature string    `json:"filter_signature"`
	TotalCount      int       `json:"total_count"`
	HasNext         bool      `json:"has_next"`
	HasPrev         bool      `json:"has_prev"`
	CreatedAt       time.Time `json:"created_at"`
}
