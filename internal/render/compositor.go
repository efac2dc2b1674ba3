// Package render composes map fragments from decoded tiles.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/gtav-tiles/server/internal/cache"
	"github.com/gtav-tiles/server/internal/data/tiles"
	"github.com/gtav-tiles/server/pkg/colormap"
)

// ErrInvalidSize is returned for requests with a non-positive output size.
var ErrInvalidSize = errors.New("invalid fragment size")

// TileSource is the indexed tile set a Renderer reads from.
type TileSource interface {
	Bounds() tiles.Bounds
	Get(tiles.Coord) (tiles.Record, bool)
	Load(tiles.Coord) (image.Image, error)
}

// TileGetter returns decoded tiles, loading them on a miss.
type TileGetter interface {
	GetOrLoad(tiles.Coord, cache.Loader) (image.Image, error)
}

// Config contains renderer configuration.
type Config struct {
	Calibration Calibration
	Logger      *zap.Logger
}

// Request describes one fragment.
type Request struct {
	World       WorldPoint
	Width       int
	Height      int
	DrawMarker  bool
	MarkerColor colormap.MarkerColor
}

// Stats describes how a fragment was assembled.
type Stats struct {
	Center  PixelPoint
	Region  image.Rectangle
	Tiles   int // tiles pasted
	Missing int // covering coordinates with no tile on disk
	Failed  int // tiles that failed to load
	Resized bool
}

// Renderer composes fragments. It is safe for concurrent use when its
// TileGetter is.
type Renderer struct {
	source      TileSource
	tiles       TileGetter
	calibration Calibration
	logger      *zap.Logger
}

// NewRenderer creates a renderer over source, fetching tiles through getter.
func NewRenderer(source TileSource, getter TileGetter, cfg Config) *Renderer {
	cal := cfg.Calibration
	if cal == (Calibration{}) {
		cal = DefaultCalibration
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		source:      source,
		tiles:       getter,
		calibration: cal,
		logger:      logger,
	}
}

// Calibration returns the world-to-pixel calibration in use.
func (r *Renderer) Calibration() Calibration {
	return r.calibration
}

// Render returns a fragment of exactly req.Width x req.Height pixels.
func (r *Renderer) Render(req Request) (*image.RGBA, error) {
	img, _, err := r.RenderWithStats(req)
	return img, err
}

// RenderWithStats is Render plus a description of the work done.
//
// The fragment is centred on the requested world point where the map allows.
// Near map edges the covered region shrinks; it is then stretched back to the
// requested size and the marker moves to the canvas centre. Tiles that are
// absent or fail to load leave their area black.
func (r *Renderer) RenderWithStats(req Request) (*image.RGBA, Stats, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return nil, Stats{}, fmt.Errorf("%w: %dx%d", ErrInvalidSize, req.Width, req.Height)
	}

	b := r.source.Bounds()
	center := r.calibration.WorldToPixel(req.World, b)
	region := FragmentRegion(center, req.Width, req.Height, b)
	stats := Stats{Center: center, Region: region}

	canvas := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	for _, c := range CoveringTiles(region, b) {
		if _, ok := r.source.Get(c); !ok {
			stats.Missing++
			continue
		}
		tile, err := r.tiles.GetOrLoad(c, r.source.Load)
		if err != nil {
			stats.Failed++
			r.logger.Warn("Tile unavailable, leaving area blank",
				zap.Int("tile_x", c.X),
				zap.Int("tile_y", c.Y),
				zap.Error(err),
			)
			continue
		}
		if pasteTile(canvas, tile, c, region, b) {
			stats.Tiles++
		}
	}

	var marker PixelPoint
	if region.Dx() != req.Width || region.Dy() != req.Height {
		canvas = resize(canvas, req.Width, req.Height)
		marker = PixelPoint{X: req.Width / 2, Y: req.Height / 2}
		stats.Resized = true
	} else {
		marker = PixelPoint{X: center.X - region.Min.X, Y: center.Y - region.Min.Y}
	}

	if req.DrawMarker {
		DrawMarker(canvas, marker, req.MarkerColor)
	}

	return canvas, stats, nil
}

// FragmentRegion returns the map pixel rectangle covered by a width x height
// fragment centred on center. It never leaves the map and may be smaller than
// requested at the edges.
func FragmentRegion(center PixelPoint, width, height int, b tiles.Bounds) image.Rectangle {
	left := max(0, center.X-width/2)
	top := max(0, center.Y-height/2)
	right := min(b.Width(), left+width)
	bottom := min(b.Height(), top+height)
	return image.Rect(left, top, right, bottom)
}

// CoveringTiles lists the tile coordinates whose footprint intersects region,
// column by column.
func CoveringTiles(region image.Rectangle, b tiles.Bounds) []tiles.Coord {
	if region.Empty() {
		return nil
	}
	start := b.CoordAt(region.Min.X, region.Min.Y)
	end := b.CoordAt(region.Max.X-1, region.Max.Y-1)

	out := make([]tiles.Coord, 0, (end.X-start.X+1)*(end.Y-start.Y+1))
	for x := start.X; x <= end.X; x++ {
		for y := start.Y; y <= end.Y; y++ {
			out = append(out, tiles.Coord{X: x, Y: y})
		}
	}
	return out
}

// pasteTile copies the part of tile c that falls inside region onto canvas,
// whose origin corresponds to region.Min.
func pasteTile(canvas *image.RGBA, tile image.Image, c tiles.Coord, region image.Rectangle, b tiles.Bounds) bool {
	tileLeft, tileTop := b.Origin(c)
	footprint := image.Rect(tileLeft, tileTop, tileLeft+b.TileSize, tileTop+b.TileSize)

	// Tile-local crop, also limited to what the decoded image really holds.
	tb := tile.Bounds()
	crop := footprint.Intersect(region).Sub(image.Pt(tileLeft, tileTop))
	crop = crop.Intersect(image.Rect(0, 0, tb.Dx(), tb.Dy()))
	if crop.Empty() {
		return false
	}

	dst := crop.Add(image.Pt(tileLeft-region.Min.X, tileTop-region.Min.Y))
	draw.Draw(canvas, dst, tile, crop.Min.Add(tb.Min), draw.Src)
	return true
}

func resize(src *image.RGBA, width, height int) *image.RGBA {
	scaled := imaging.Resize(src, width, height, imaging.Lanczos)
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	return out
}
