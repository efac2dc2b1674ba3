package tiles

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/webp"
)

// LoadError reports a tile that could not be read or decoded.
type LoadError struct {
	Coord Coord
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load tile %s (%s): %v", e.Coord, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads and decodes the tile for c. The result is always an *image.RGBA
// whose bounds start at the origin.
func (idx *Index) Load(c Coord) (image.Image, error) {
	rec, ok := idx.records[c]
	if !ok {
		return nil, &LoadError{Coord: c, Err: os.ErrNotExist}
	}
	return LoadRecord(rec)
}

// LoadRecord decodes the file behind rec.
func LoadRecord(rec Record) (image.Image, error) {
	f, err := os.Open(rec.Path)
	if err != nil {
		return nil, &LoadError{Coord: rec.Coord, Path: rec.Path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &LoadError{Coord: rec.Coord, Path: rec.Path, Err: err}
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
