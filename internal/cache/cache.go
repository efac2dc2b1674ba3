// Package cache provides caching for decoded tiles and encoded fragments.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/gtav-tiles/server/pkg/colormap"
)

// Config contains cache configuration.
type Config struct {
	FragmentCacheSizeMB int
	FragmentTTL         time.Duration
}

// Manager caches encoded fragments. Renders are deterministic for a given
// tile directory, so identical requests can reuse earlier output.
type Manager struct {
	fragments *bigcache.BigCache
}

// NewManager creates a new cache manager. A non-positive size disables the
// fragment cache.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.FragmentCacheSizeMB <= 0 {
		return &Manager{}, nil
	}

	ttl := cfg.FragmentTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	fragmentCacheConfig := bigcache.Config{
		// Few shards: each shard is capped at HardMaxCacheSize/Shards and
		// must fit a whole JPEG.
		Shards:             16,
		LifeWindow:         ttl,
		CleanWindow:        ttl / 2,
		MaxEntriesInWindow: 1000,
		MaxEntrySize:       256 * 1024,
		HardMaxCacheSize:   cfg.FragmentCacheSizeMB,
		Verbose:            false,
	}

	fragments, err := bigcache.New(context.Background(), fragmentCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create fragment cache: %w", err)
	}

	return &Manager{fragments: fragments}, nil
}

// GetFragment retrieves an encoded fragment.
func (m *Manager) GetFragment(key string) ([]byte, bool) {
	if m.fragments == nil {
		return nil, false
	}
	data, err := m.fragments.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFragment stores an encoded fragment.
func (m *Manager) SetFragment(key string, data []byte) error {
	if m.fragments == nil {
		return nil
	}
	return m.fragments.Set(key, data)
}

// FragmentKey generates a cache key for an encoded fragment.
func FragmentKey(mapID string, x, y float64, width, height int, marker bool, c colormap.MarkerColor, quality int) string {
	m := "-"
	if marker {
		m = c.String()
	}
	return fmt.Sprintf("frag:%s:%g,%g:%dx%d:%s:q%d", mapID, x, y, width, height, m, quality)
}

// FragmentStats is a snapshot of the fragment cache.
type FragmentStats struct {
	Enabled    bool  `json:"enabled"`
	Len        int   `json:"len"`
	Capacity   int   `json:"capacity_bytes"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Collisions int64 `json:"collisions"`
}

// Stats returns fragment cache statistics.
func (m *Manager) Stats() FragmentStats {
	if m.fragments == nil {
		return FragmentStats{}
	}
	s := m.fragments.Stats()
	return FragmentStats{
		Enabled:    true,
		Len:        m.fragments.Len(),
		Capacity:   m.fragments.Capacity(),
		Hits:       s.Hits,
		Misses:     s.Misses,
		Collisions: s.Collisions,
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	if m.fragments == nil {
		return nil
	}
	return m.fragments.Close()
}
