// pagecache/signature.go
package pagecache

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Signature derives a stable identifier for a filter set and page size.
// Filters are canonicalized by key order so map iteration order never
// produces two signatures for the same logical filter.
func Signature(filters map[string]any, pageSize int) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	for _, k := range keys {
		h.WriteString(k)
		h.WriteString("=")
		h.WriteString(fmt.Sprintf("%v", filters[k]))
		h.WriteString("|")
	}
	h.WriteString("size=")
	h.WriteString(strconv.Itoa(pageSize))

	return strconv.FormatUint(h.Sum64(), 16)
}
