// Package service provides the fragment rendering service for one map.
package service

import (
	"fmt"
	"image"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gtav-tiles/server/internal/cache"
	"github.com/gtav-tiles/server/internal/data/tiles"
	"github.com/gtav-tiles/server/internal/metrics"
	"github.com/gtav-tiles/server/internal/render"
	"github.com/gtav-tiles/server/pkg/colormap"
)

// FragmentServiceConfig contains fragment service configuration.
type FragmentServiceConfig struct {
	MapID       string
	Index       *tiles.Index
	Tiles       *cache.TileCache
	Fragments   *cache.Manager // optional
	Calibration render.Calibration
	JPEGQuality int
	Logger      *zap.Logger
}

// MapOptions describes a tile set to open with OpenFragmentService.
type MapOptions struct {
	MapID        string
	TilesDir     string
	TileExt      string
	TileSize     int
	Calibration  render.Calibration
	TileCapacity int
	Fragments    *cache.Manager
	JPEGQuality  int
	Logger       *zap.Logger
}

// FragmentRequest asks for a fragment centred on a world position.
type FragmentRequest struct {
	X, Y   float64
	Width  int
	Height int
	Marker bool
	Color  colormap.MarkerColor
}

// WorldExtent is the world-space rectangle covered by a map.
type WorldExtent struct {
	Min render.WorldPoint `json:"min"`
	Max render.WorldPoint `json:"max"`
}

// MapInfo describes a map for API responses.
type MapInfo struct {
	ID          string             `json:"id"`
	Tiles       int                `json:"tiles"`
	Bounds      tiles.Bounds       `json:"bounds"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	World       WorldExtent        `json:"world"`
	Calibration render.Calibration `json:"calibration"`
}

// CacheStats combines the statistics of both cache layers.
type CacheStats struct {
	Tiles     cache.TileCacheStats `json:"tiles"`
	Fragments cache.FragmentStats  `json:"fragments"`
}

// FragmentService renders fragments of one map. It owns the map's tile
// cache and is safe for concurrent use.
type FragmentService struct {
	mapID     string
	index     *tiles.Index
	tiles     *cache.TileCache
	fragments *cache.Manager
	renderer  *render.Renderer
	quality   int
	logger    *zap.Logger
}

// NewFragmentService creates a new fragment service.
func NewFragmentService(cfg FragmentServiceConfig) *FragmentService {
	mapID := cfg.MapID
	if mapID == "" {
		mapID = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("map", mapID))

	fragments := cfg.Fragments
	if fragments == nil {
		fragments, _ = cache.NewManager(cache.Config{})
	}

	return &FragmentService{
		mapID:     mapID,
		index:     cfg.Index,
		tiles:     cfg.Tiles,
		fragments: fragments,
		renderer: render.NewRenderer(cfg.Index, cfg.Tiles, render.Config{
			Calibration: cfg.Calibration,
			Logger:      logger,
		}),
		quality: render.NormalizeQuality(cfg.JPEGQuality),
		logger:  logger,
	}
}

// OpenFragmentService indexes a tile directory and builds a service over it.
func OpenFragmentService(opts MapOptions) (*FragmentService, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	idx, err := tiles.BuildIndex(opts.TilesDir, tiles.IndexOptions{
		Ext:      opts.TileExt,
		TileSize: opts.TileSize,
		Logger:   logger.With(zap.String("map", opts.MapID)),
	})
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", opts.MapID, err)
	}

	tc, err := cache.NewTileCache(opts.MapID, opts.TileCapacity)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", opts.MapID, err)
	}

	return NewFragmentService(FragmentServiceConfig{
		MapID:       opts.MapID,
		Index:       idx,
		Tiles:       tc,
		Fragments:   opts.Fragments,
		Calibration: opts.Calibration,
		JPEGQuality: opts.JPEGQuality,
		Logger:      logger,
	}), nil
}

// MapID returns the map this service renders.
func (s *FragmentService) MapID() string {
	return s.mapID
}

// Image composes a fragment without encoding it.
func (s *FragmentService) Image(req FragmentRequest) (*image.RGBA, render.Stats, error) {
	img, stats, err := s.renderer.RenderWithStats(render.Request{
		World:       render.WorldPoint{X: req.X, Y: req.Y},
		Width:       req.Width,
		Height:      req.Height,
		DrawMarker:  req.Marker,
		MarkerColor: req.Color,
	})
	if err != nil {
		return nil, stats, err
	}

	metrics.FragmentsRendered.WithLabelValues(s.mapID, strconv.FormatBool(stats.Resized)).Inc()
	s.logger.Debug("Fragment composed",
		zap.Float64("x", req.X),
		zap.Float64("y", req.Y),
		zap.Int("center_px", stats.Center.X),
		zap.Int("center_py", stats.Center.Y),
		zap.Int("tiles", stats.Tiles),
		zap.Int("missing", stats.Missing),
		zap.Int("failed", stats.Failed),
		zap.Bool("resized", stats.Resized),
	)
	return img, stats, nil
}

// Render returns the fragment encoded as JPEG, reusing a cached encoding
// when an identical request was served before.
func (s *FragmentService) Render(req FragmentRequest) ([]byte, error) {
	data, _, err := s.RenderWithStats(req)
	return data, err
}

// RenderWithStats is Render plus composition statistics. A fragment served
// from the fragment cache reports zero stats. Fragments with tiles that
// failed to load are never cached, so the next request retries them.
func (s *FragmentService) RenderWithStats(req FragmentRequest) ([]byte, render.Stats, error) {
	key := cache.FragmentKey(s.mapID, req.X, req.Y, req.Width, req.Height, req.Marker, req.Color, s.quality)
	if data, ok := s.fragments.GetFragment(key); ok {
		metrics.FragmentCacheHits.WithLabelValues(s.mapID).Inc()
		return data, render.Stats{}, nil
	}

	start := time.Now()
	img, stats, err := s.Image(req)
	if err != nil {
		return nil, stats, err
	}
	data, err := render.EncodeJPEG(img, s.quality)
	if err != nil {
		return nil, stats, err
	}
	elapsed := time.Since(start)
	metrics.FragmentRenderDuration.WithLabelValues(s.mapID).Observe(elapsed.Seconds())

	if stats.Failed > 0 {
		s.logger.Warn("Fragment incomplete, not cached", zap.Int("failed", stats.Failed))
	} else if err := s.fragments.SetFragment(key, data); err != nil {
		// Oversized entries are rejected by the cache; the render still stands.
		s.logger.Debug("Fragment not cached", zap.Int("bytes", len(data)), zap.Error(err))
	}

	s.logger.Debug("Fragment rendered",
		zap.Int("bytes", len(data)),
		zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	)
	return data, stats, nil
}

// RenderFile writes the fragment to path as JPEG.
func (s *FragmentService) RenderFile(path string, req FragmentRequest) (render.Stats, error) {
	img, stats, err := s.Image(req)
	if err != nil {
		return stats, err
	}
	if err := render.WriteFile(path, img, s.quality); err != nil {
		return stats, err
	}
	return stats, nil
}

// Info describes the map, including its world-space extent.
func (s *FragmentService) Info() MapInfo {
	b := s.index.Bounds()
	cal := s.renderer.Calibration()

	a := cal.PixelToWorld(render.PixelPoint{X: 0, Y: 0})
	z := cal.PixelToWorld(render.PixelPoint{X: b.Width() - 1, Y: b.Height() - 1})

	return MapInfo{
		ID:     s.mapID,
		Tiles:  s.index.Len(),
		Bounds: b,
		Width:  b.Width(),
		Height: b.Height(),
		World: WorldExtent{
			Min: render.WorldPoint{X: min(a.X, z.X), Y: min(a.Y, z.Y)},
			Max: render.WorldPoint{X: max(a.X, z.X), Y: max(a.Y, z.Y)},
		},
		Calibration: cal,
	}
}

// CacheStats returns statistics for the tile and fragment caches.
func (s *FragmentService) CacheStats() CacheStats {
	return CacheStats{
		Tiles:     s.tiles.Stats(),
		Fragments: s.fragments.Stats(),
	}
}
