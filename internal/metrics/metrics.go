// Package metrics exposes Prometheus instruments for the fragment server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gtav_tiles"

var (
	// Decoded tile cache
	TileCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tile_cache",
		Name:      "hits_total",
		Help:      "Decoded tile lookups served from memory",
	}, []string{"map"})

	TileCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tile_cache",
		Name:      "misses_total",
		Help:      "Decoded tile lookups that required a disk load",
	}, []string{"map"})

	TileCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tile_cache",
		Name:      "evictions_total",
		Help:      "Decoded tiles evicted to respect capacity",
	}, []string{"map"})

	TileLoadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tile_cache",
		Name:      "load_errors_total",
		Help:      "Tiles that could not be read or decoded",
	}, []string{"map"})

	// Fragment rendering
	FragmentsRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fragment",
		Name:      "rendered_total",
		Help:      "Fragments composited from tiles",
	}, []string{"map", "resized"})

	FragmentCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fragment",
		Name:      "cache_hits_total",
		Help:      "Encoded fragments served from the fragment cache",
	}, []string{"map"})

	FragmentRenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "fragment",
		Name:      "render_duration_seconds",
		Help:      "Time spent compositing and encoding a fragment",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"map"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
