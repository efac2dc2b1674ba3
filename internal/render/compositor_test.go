package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/gtav-tiles/server/internal/cache"
	"github.com/gtav-tiles/server/internal/data/tiles"
	"github.com/gtav-tiles/server/pkg/colormap"
)

const (
	testTileSize = 16
	testMinX     = 2
	testMinY     = 3
	testCols     = 4
	testRows     = 4
)

// identity maps world units 1:1 onto map pixels.
var identity = Calibration{ScaleX: 1, ScaleY: 1}

// patternAt is the color of tile-local pixel (i, j) in tile (tx, ty).
func patternAt(tx, ty, i, j int) color.RGBA {
	return color.RGBA{
		R: uint8(tx*40 + i*3),
		G: uint8(ty*40 + j*3),
		B: uint8(tx*7 + ty*11 + i + j),
		A: 255,
	}
}

// mapPixel is the expected color at map pixel (px, py).
func mapPixel(px, py int) color.RGBA {
	return patternAt(testMinX+px/testTileSize, testMinY+py/testTileSize, px%testTileSize, py%testTileSize)
}

func writeTileSet(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	for tx := testMinX; tx < testMinX+testCols; tx++ {
		dir := filepath.Join(root, strconv.Itoa(tx))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create column: %v", err)
		}
		for ty := testMinY; ty < testMinY+testRows; ty++ {
			img := image.NewRGBA(image.Rect(0, 0, testTileSize, testTileSize))
			for j := 0; j < testTileSize; j++ {
				for i := 0; i < testTileSize; i++ {
					img.SetRGBA(i, j, patternAt(tx, ty, i, j))
				}
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				t.Fatalf("failed to encode tile: %v", err)
			}
			path := filepath.Join(dir, strconv.Itoa(ty)+".png")
			if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
				t.Fatalf("failed to write tile: %v", err)
			}
		}
	}
	return root
}

func tilePath(root string, tx, ty int) string {
	return filepath.Join(root, strconv.Itoa(tx), strconv.Itoa(ty)+".png")
}

func newTestRenderer(t *testing.T, root string, capacity int) (*Renderer, *cache.TileCache) {
	t.Helper()

	idx, err := tiles.BuildIndex(root, tiles.IndexOptions{Ext: "png", TileSize: testTileSize})
	if err != nil {
		t.Fatalf("failed to build index: %v", err)
	}
	tc, err := cache.NewTileCache("render-test", capacity)
	if err != nil {
		t.Fatalf("failed to create tile cache: %v", err)
	}
	return NewRenderer(idx, tc, Config{Calibration: identity}), tc
}

func assertSize(t *testing.T, img *image.RGBA, w, h int) {
	t.Helper()
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h || b.Min != (image.Point{}) {
		t.Fatalf("expected %dx%d canvas at origin, got %v", w, h, b)
	}
}

func TestRender_InvalidSize(t *testing.T) {
	r, _ := newTestRenderer(t, writeTileSet(t), 4)

	for _, req := range []Request{{Width: 0, Height: 10}, {Width: 10, Height: -1}} {
		if _, err := r.Render(req); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("Render(%dx%d): expected ErrInvalidSize, got %v", req.Width, req.Height, err)
		}
	}
}

func TestRender_SingleTileCrop(t *testing.T) {
	r, _ := newTestRenderer(t, writeTileSet(t), 4)

	// Centre (24, 24) with 6x6 covers map pixels [21, 27), inside tile (3, 4).
	img, stats, err := r.RenderWithStats(Request{World: WorldPoint{X: 24, Y: 24}, Width: 6, Height: 6})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	assertSize(t, img, 6, 6)
	if stats.Tiles != 1 || stats.Resized {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			want := patternAt(testMinX+1, testMinY+1, 5+x, 5+y)
			if got := img.RGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d): got %v want %v", x, y, got, want)
			}
		}
	}
}

func TestRender_StitchesTwoByTwo(t *testing.T) {
	r, _ := newTestRenderer(t, writeTileSet(t), 8)

	// Centre (32, 32) with 32x32 starts exactly on the tile edge at (16, 16).
	img, stats, err := r.RenderWithStats(Request{World: WorldPoint{X: 32, Y: 32}, Width: 32, Height: 32})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	assertSize(t, img, 32, 32)
	if stats.Region != image.Rect(16, 16, 48, 48) {
		t.Fatalf("unexpected region: %v", stats.Region)
	}
	if stats.Tiles != 4 {
		t.Fatalf("expected 4 tiles pasted, got %d", stats.Tiles)
	}

	want := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			want.SetRGBA(x, y, mapPixel(16+x, 16+y))
		}
	}
	if !bytes.Equal(img.Pix, want.Pix) {
		t.Fatal("stitched fragment differs from tile concatenation")
	}
}

func TestRender_UnalignedSpan(t *testing.T) {
	r, _ := newTestRenderer(t, writeTileSet(t), 16)

	// 21x13 around (30, 41) crosses tile boundaries on both axes.
	img, err := r.Render(Request{World: WorldPoint{X: 30, Y: 41}, Width: 21, Height: 13})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	assertSize(t, img, 21, 13)

	left, top := 30-21/2, 41-13/2
	for y := 0; y < 13; y++ {
		for x := 0; x < 21; x++ {
			if got, want := img.RGBAAt(x, y), mapPixel(left+x, top+y); got != want {
				t.Fatalf("pixel (%d,%d): got %v want %v", x, y, got, want)
			}
		}
	}
}

func TestRender_EdgesKeepRequestedSize(t *testing.T) {
	r, _ := newTestRenderer(t, writeTileSet(t), 16)
	mapSize := testCols * testTileSize

	tests := []struct {
		name        string
		world       WorldPoint
		w, h        int
		wantResized bool
	}{
		{"topLeftCorner", WorldPoint{X: 0, Y: 0}, 20, 20, false},
		{"farBeyondTopLeft", WorldPoint{X: -1e6, Y: -1e6}, 20, 20, false},
		{"bottomRightCorner", WorldPoint{X: 63, Y: 63}, 20, 20, true},
		{"farBeyondBottomRight", WorldPoint{X: 1e6, Y: 1e6}, 30, 10, true},
		{"largerThanMap", WorldPoint{X: 32, Y: 32}, mapSize * 2, mapSize + 7, true},
		{"onePixel", WorldPoint{X: 5, Y: 5}, 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, stats, err := r.RenderWithStats(Request{World: tt.world, Width: tt.w, Height: tt.h, DrawMarker: true})
			if err != nil {
				t.Fatalf("Render error: %v", err)
			}
			assertSize(t, img, tt.w, tt.h)
			if stats.Resized != tt.wantResized {
				t.Errorf("resized = %v, want %v (region %v)", stats.Resized, tt.wantResized, stats.Region)
			}
			if !stats.Region.In(image.Rect(0, 0, mapSize, mapSize)) {
				t.Errorf("region %v leaves the map", stats.Region)
			}
		})
	}
}

// markerCentroid returns the mean position of pixels that differ between
// marked and plain renders.
func markerCentroid(t *testing.T, marked, plain *image.RGBA) (float64, float64) {
	t.Helper()

	var sx, sy, n float64
	b := marked.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if marked.RGBAAt(x, y) != plain.RGBAAt(x, y) {
				sx += float64(x)
				sy += float64(y)
				n++
			}
		}
	}
	if n == 0 {
		t.Fatal("marker left no trace")
	}
	return sx / n, sy / n
}

func TestRender_MarkerPlacement(t *testing.T) {
	r, _ := newTestRenderer(t, writeTileSet(t), 16)

	tests := []struct {
		name   string
		world  WorldPoint
		w, h   int
		wantX  float64
		wantY  float64
		resize bool
	}{
		{"interior", WorldPoint{X: 40, Y: 40}, 20, 20, 10, 10, false},
		{"interiorOddSize", WorldPoint{X: 33, Y: 27}, 15, 9, 7, 4, false},
		{"topLeftEdge", WorldPoint{X: 3, Y: 4}, 20, 20, 3, 4, false},
		{"resizedAtBottomRight", WorldPoint{X: 1000, Y: 1000}, 20, 20, 10, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{World: tt.world, Width: tt.w, Height: tt.h, MarkerColor: colormap.Blue}
			plain, err := r.Render(req)
			if err != nil {
				t.Fatalf("Render error: %v", err)
			}
			req.DrawMarker = true
			marked, stats, err := r.RenderWithStats(req)
			if err != nil {
				t.Fatalf("Render error: %v", err)
			}
			if stats.Resized != tt.resize {
				t.Fatalf("resized = %v, want %v", stats.Resized, tt.resize)
			}

			cx, cy := markerCentroid(t, marked, plain)
			if abs(cx-tt.wantX) > 1 || abs(cy-tt.wantY) > 1 {
				t.Fatalf("marker centred at (%.2f, %.2f), want (%.0f, %.0f) ±1", cx, cy, tt.wantX, tt.wantY)
			}

			c := marked.RGBAAt(int(tt.wantX), int(tt.wantY))
			if c.B < 250 || c.R > 5 || c.G > 5 {
				t.Fatalf("marker centre pixel is %v, want blue", c)
			}
		})
	}
}

func TestRender_MissingAndCorruptTiles(t *testing.T) {
	root := writeTileSet(t)
	r, _ := newTestRenderer(t, root, 16)

	// Break tiles after indexing: (3, 4) vanishes, (4, 5) is garbage.
	if err := os.Remove(tilePath(root, testMinX+1, testMinY+1)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tilePath(root, testMinX+2, testMinY+2), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	img, stats, err := r.RenderWithStats(Request{World: WorldPoint{X: 32, Y: 32}, Width: 32, Height: 32})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	assertSize(t, img, 32, 32)
	if stats.Failed != 2 || stats.Tiles != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	black := color.RGBA{A: 255}
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			got := img.RGBAAt(x, y)
			broken := (x < 16 && y < 16) || (x >= 16 && y >= 16)
			if broken && got != black {
				t.Fatalf("pixel (%d,%d) of a broken tile is %v, want black", x, y, got)
			}
			if !broken && got != mapPixel(16+x, 16+y) {
				t.Fatalf("pixel (%d,%d) of an intact tile is %v", x, y, got)
			}
		}
	}
}

func TestRender_HoleInGrid(t *testing.T) {
	root := writeTileSet(t)
	if err := os.Remove(tilePath(root, testMinX, testMinY)); err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRenderer(t, root, 16)

	img, stats, err := r.RenderWithStats(Request{World: WorldPoint{X: 16, Y: 16}, Width: 32, Height: 32})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if stats.Missing != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := img.RGBAAt(3, 3); got != (color.RGBA{A: 255}) {
		t.Fatalf("hole should be black, got %v", got)
	}
	if got := img.RGBAAt(20, 20); got != mapPixel(20, 20) {
		t.Fatalf("unexpected pixel next to hole: %v", got)
	}
}

func TestRender_Idempotent(t *testing.T) {
	r, _ := newTestRenderer(t, writeTileSet(t), 2)
	req := Request{World: WorldPoint{X: 50, Y: 61}, Width: 40, Height: 25, DrawMarker: true, MarkerColor: colormap.Green}

	first, err := r.Render(req)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	second, err := r.Render(req)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !bytes.Equal(first.Pix, second.Pix) {
		t.Fatal("identical requests produced different pixels")
	}

	a, err := EncodeJPEG(first, 100)
	if err != nil {
		t.Fatalf("EncodeJPEG error: %v", err)
	}
	b, err := EncodeJPEG(second, 100)
	if err != nil {
		t.Fatalf("EncodeJPEG error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("identical requests produced different JPEG bytes")
	}
}

func TestRender_ConcurrentSharedCache(t *testing.T) {
	r, tc := newTestRenderer(t, writeTileSet(t), 3)

	reqs := []Request{
		{World: WorldPoint{X: 10, Y: 10}, Width: 20, Height: 20},
		{World: WorldPoint{X: 32, Y: 32}, Width: 32, Height: 32},
		{World: WorldPoint{X: 55, Y: 20}, Width: 17, Height: 23, DrawMarker: true},
		{World: WorldPoint{X: 60, Y: 60}, Width: 24, Height: 24},
	}
	want := make([][]byte, len(reqs))
	for i, req := range reqs {
		img, err := r.Render(req)
		if err != nil {
			t.Fatalf("Render error: %v", err)
		}
		want[i] = img.Pix
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				k := (g + i) % len(reqs)
				img, err := r.Render(reqs[k])
				if err != nil {
					t.Errorf("Render error: %v", err)
					return
				}
				if !bytes.Equal(img.Pix, want[k]) {
					t.Errorf("concurrent render %d differs from serial result", k)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if tc.Len() > tc.Capacity() {
		t.Fatalf("cache holds %d entries, capacity %d", tc.Len(), tc.Capacity())
	}
}

func TestCoveringTiles(t *testing.T) {
	b := tiles.Bounds{MinX: 2, MaxX: 5, MinY: 3, MaxY: 6, TileSize: 16}

	got := CoveringTiles(image.Rect(15, 16, 17, 33), b)
	want := []tiles.Coord{{X: 2, Y: 4}, {X: 2, Y: 5}, {X: 3, Y: 4}, {X: 3, Y: 5}}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	if CoveringTiles(image.Rectangle{}, b) != nil {
		t.Fatal("expected no tiles for an empty region")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
