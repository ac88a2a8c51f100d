// store/eviction.go
package store

import (
	"sort"
	"time"
)

// indexEntry is the in-memory bookkeeping record kept per stored entry so
// eviction decisions never need to scan the engine.
type indexEntry struct {
	key         string
	scope       string
	size        int64
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int64
	ttl         time.Duration
}

func (e *indexEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// accessPenalty weights rarely-read entries toward eviction; one minute of
// extra idle time per missing access.
const accessPenalty = float64(time.Minute)

// evictionScore combines idleness with low access count. Higher evicts first.
func evictionScore(e *indexEntry, now time.Time) float64 {
	idle := float64(now.Sub(e.lastAccess))
	return idle + accessPenalty/float64(e.accessCount+1)
}

// victims selects entries to evict, highest score first, until at least
// `need` bytes would be freed. Expired entries go first regardless of score.
func victims(index map[string]*indexEntry, need int64, now time.Time) []string {
	candidates := make([]*indexEntry, 0, len(index))
	for _, e := range index {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ei, ej := candidates[i], candidates[j]
		if ei.expired(now) != ej.expired(now) {
			return ei.expired(now)
		}
		si, sj := evictionScore(ei, now), evictionScore(ej, now)
		if si != sj {
			return si > sj
		}
		return ei.createdAt.Before(ej.createdAt)
	})

	var freed int64
	var keys []string
	for _, e := range candidates {
		if freed >= need {
			break
		}
		freed += e.size
		keys = append(keys, e.key)
	}
	return keys
}
