// Package tiles discovers map tiles on disk and decodes them.
//
// A tile set is a directory tree laid out as <tile_x>/<tile_y>.<ext>, where
// every tile has the same square pixel size. The index is built once and is
// read-only afterwards, so it can be shared between goroutines freely.
package tiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultTileSize is the edge length of a tile in pixels.
const DefaultTileSize = 256

// DefaultExt is the tile file extension used when none is configured.
const DefaultExt = "jpg"

// ErrNoTilesFound is returned by BuildIndex when the directory holds no valid tile.
var ErrNoTilesFound = errors.New("no tiles found in directory")

// Coord identifies a tile in the tile grid.
type Coord struct {
	X int
	Y int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d", c.X, c.Y)
}

// Record locates a tile file.
type Record struct {
	Coord Coord
	Path  string
}

// Bounds is the tile-space extent of an index.
type Bounds struct {
	MinX     int `json:"min_x"`
	MaxX     int `json:"max_x"`
	MinY     int `json:"min_y"`
	MaxY     int `json:"max_y"`
	TileSize int `json:"tile_size"`
}

// Cols returns the number of tile columns spanned by the bounds.
func (b Bounds) Cols() int { return b.MaxX - b.MinX + 1 }

// Rows returns the number of tile rows spanned by the bounds.
func (b Bounds) Rows() int { return b.MaxY - b.MinY + 1 }

// Width returns the map width in pixels.
func (b Bounds) Width() int { return b.Cols() * b.TileSize }

// Height returns the map height in pixels.
func (b Bounds) Height() int { return b.Rows() * b.TileSize }

// Origin returns the map pixel position of the top-left corner of c.
func (b Bounds) Origin(c Coord) (int, int) {
	return (c.X - b.MinX) * b.TileSize, (c.Y - b.MinY) * b.TileSize
}

// CoordAt returns the tile containing map pixel (px, py).
func (b Bounds) CoordAt(px, py int) Coord {
	return Coord{X: b.MinX + px/b.TileSize, Y: b.MinY + py/b.TileSize}
}

// IndexOptions configures BuildIndex.
type IndexOptions struct {
	// Ext is the tile file extension, with or without the leading dot.
	Ext      string
	TileSize int
	Logger   *zap.Logger
}

// Index maps tile coordinates to files.
type Index struct {
	records map[Coord]Record
	bounds  Bounds
}

// BuildIndex scans root for tiles. First-level directories whose names are
// non-negative integers are columns; files inside them whose stem is an
// integer and whose extension matches opts.Ext are rows. Anything else is
// skipped.
func BuildIndex(root string, opts IndexOptions) (*Index, error) {
	ext := normalizeExt(opts.Ext)
	tileSize := opts.TileSize
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	columns, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiles directory %s: %w", root, err)
	}

	records := make(map[Coord]Record)
	for _, col := range columns {
		if !col.IsDir() {
			continue
		}
		x, err := strconv.Atoi(col.Name())
		if err != nil || x < 0 {
			log.Debug("Skipping non-column entry", zap.String("name", col.Name()))
			continue
		}

		colDir := filepath.Join(root, col.Name())
		files, err := os.ReadDir(colDir)
		if err != nil {
			log.Warn("Failed to read tile column", zap.String("path", colDir), zap.Error(err))
			continue
		}

		for _, f := range files {
			if f.IsDir() {
				continue
			}
			name := f.Name()
			fileExt := filepath.Ext(name)
			if !strings.EqualFold(strings.TrimPrefix(fileExt, "."), ext) {
				continue
			}
			y, err := strconv.Atoi(strings.TrimSuffix(name, fileExt))
			if err != nil {
				log.Debug("Skipping tile with non-integer name", zap.String("path", filepath.Join(colDir, name)))
				continue
			}
			c := Coord{X: x, Y: y}
			records[c] = Record{Coord: c, Path: filepath.Join(colDir, name)}
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTilesFound, root)
	}

	idx := &Index{
		records: records,
		bounds:  computeBounds(records, tileSize),
	}

	log.Info("Tile index built",
		zap.String("root", root),
		zap.Int("tiles", len(records)),
		zap.Int("cols", idx.bounds.Cols()),
		zap.Int("rows", idx.bounds.Rows()),
	)
	return idx, nil
}

func computeBounds(records map[Coord]Record, tileSize int) Bounds {
	first := true
	var b Bounds
	for c := range records {
		if first {
			b = Bounds{MinX: c.X, MaxX: c.X, MinY: c.Y, MaxY: c.Y}
			first = false
			continue
		}
		b.MinX = min(b.MinX, c.X)
		b.MaxX = max(b.MaxX, c.X)
		b.MinY = min(b.MinY, c.Y)
		b.MaxY = max(b.MaxY, c.Y)
	}
	b.TileSize = tileSize
	return b
}

func normalizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return DefaultExt
	}
	return ext
}

// Get returns the record for c.
func (idx *Index) Get(c Coord) (Record, bool) {
	r, ok := idx.records[c]
	return r, ok
}

// Bounds returns the tile and pixel extent of the index.
func (idx *Index) Bounds() Bounds {
	return idx.bounds
}

// Len returns the number of indexed tiles.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Records returns all records ordered by x, then y.
func (idx *Index) Records() []Record {
	out := make([]Record, 0, len(idx.records))
	for _, r := range idx.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Coord.X != out[j].Coord.X {
			return out[i].Coord.X < out[j].Coord.X
		}
		return out[i].Coord.Y < out[j].Coord.Y
	})
	return out
}
