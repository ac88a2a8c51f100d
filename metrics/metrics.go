// metrics/metrics.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache-layer metrics, exported through the default prometheus registry.
var (
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachecore_hits_total",
			Help: "Cache hits by layer.",
		},
		[]string{"layer"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachecore_misses_total",
			Help: "Cache misses by layer.",
		},
		[]string{"layer"},
	)

	Evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cachecore_evictions_total",
			Help: "Entries evicted by layer and reason.",
		},
		[]string{"layer", "reason"},
	)

	PermissionDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachecore_permission_denied_total",
		Help: "Reads withheld because the active profile lacks access.",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cachecore_queue_depth",
		Help: "Pending operations in the offline queue.",
	})

	DrainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cachecore_drain_duration_seconds",
		Help:    "Offline queue drain latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

var registerOnce sync.Once

// Init registers the collectors in the default registry. Safe to call from
// every constructor; registration happens once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(CacheHits, CacheMisses, Evictions,
			PermissionDenied, QueueDepth, DrainDuration)
	})
}

// ObserveDrain records one drain pass.
func ObserveDrain(start time.Time) {
	DrainDuration.Observe(time.Since(start).Seconds())
}
