package cache

import (
	"fmt"
	"image"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/gtav-tiles/server/internal/data/tiles"
	"github.com/gtav-tiles/server/internal/metrics"
)

// DefaultTileCapacity is the number of decoded tiles kept in memory.
const DefaultTileCapacity = 50

// Loader reads and decodes one tile.
type Loader func(tiles.Coord) (image.Image, error)

// TileCache holds decoded tiles with insertion-order (FIFO) eviction: when
// full, the entry inserted earliest is dropped, no matter how often it was read.
//
// Reads use Peek so they never refresh an entry's position. Returned images
// are shared and must be treated as read-only; eviction only drops the
// cache's reference, so a caller's view stays valid.
type TileCache struct {
	name     string
	capacity int
	entries  *lru.Cache[tiles.Coord, image.Image]
	loads    singleflight.Group

	hits       atomic.Uint64
	misses     atomic.Uint64
	loadErrors atomic.Uint64
	evictions  atomic.Uint64
}

// TileCacheStats is a snapshot of cache counters.
type TileCacheStats struct {
	Len        int    `json:"len"`
	Capacity   int    `json:"capacity"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	LoadErrors uint64 `json:"load_errors"`
	Evictions  uint64 `json:"evictions"`
}

// NewTileCache creates a cache holding at most capacity tiles. A capacity of
// zero selects DefaultTileCapacity. name labels the cache's metrics.
func NewTileCache(name string, capacity int) (*TileCache, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("invalid tile cache capacity: %d", capacity)
	}
	if capacity == 0 {
		capacity = DefaultTileCapacity
	}

	c := &TileCache{name: name, capacity: capacity}
	entries, err := lru.NewWithEvict[tiles.Coord, image.Image](capacity, func(tiles.Coord, image.Image) {
		c.evictions.Add(1)
		metrics.TileCacheEvictions.WithLabelValues(c.name).Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// GetOrLoad returns the tile for coord, calling load on a miss. Concurrent
// misses for the same tile share one load. Failed loads are not cached.
func (c *TileCache) GetOrLoad(coord tiles.Coord, load Loader) (image.Image, error) {
	if img, ok := c.entries.Peek(coord); ok {
		c.hits.Add(1)
		metrics.TileCacheHits.WithLabelValues(c.name).Inc()
		return img, nil
	}

	c.misses.Add(1)
	metrics.TileCacheMisses.WithLabelValues(c.name).Inc()

	v, err, _ := c.loads.Do(coord.String(), func() (interface{}, error) {
		if img, ok := c.entries.Peek(coord); ok {
			return img, nil
		}
		img, err := load(coord)
		if err == nil && img == nil {
			err = fmt.Errorf("tile %s: loader returned no image", coord)
		}
		if err != nil {
			c.loadErrors.Add(1)
			metrics.TileLoadErrors.WithLabelValues(c.name).Inc()
			return nil, err
		}
		// A resident entry keeps its first insertion position.
		if prev, ok, _ := c.entries.PeekOrAdd(coord, img); ok {
			return prev, nil
		}
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	img, ok := v.(image.Image)
	if !ok {
		return nil, fmt.Errorf("tile %s: loader returned no image", coord)
	}
	return img, nil
}

// Contains reports whether coord is resident without touching counters.
func (c *TileCache) Contains(coord tiles.Coord) bool {
	return c.entries.Contains(coord)
}

// Len returns the number of resident tiles.
func (c *TileCache) Len() int {
	return c.entries.Len()
}

// Capacity returns the maximum number of resident tiles.
func (c *TileCache) Capacity() int {
	return c.capacity
}

// Keys returns resident coordinates, earliest inserted first.
func (c *TileCache) Keys() []tiles.Coord {
	// golang-lru orders keys oldest to newest; with Peek-only reads that is
	// insertion order.
	return c.entries.Keys()
}

// Stats returns a snapshot of the cache counters.
func (c *TileCache) Stats() TileCacheStats {
	return TileCacheStats{
		Len:        c.entries.Len(),
		Capacity:   c.capacity,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		LoadErrors: c.loadErrors.Load(),
		Evictions:  c.evictions.Load(),
	}
}
