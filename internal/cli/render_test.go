package cli

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gtav-tiles/server/internal/data/tiles"
	"github.com/gtav-tiles/server/internal/render"
)

func writeTiles(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	for x := 0; x < 2; x++ {
		dir := filepath.Join(root, strconv.Itoa(x))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		for y := 0; y < 2; y++ {
			img := image.NewRGBA(image.Rect(0, 0, 16, 16))
			draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 90, G: uint8(50 * x), B: uint8(50 * y), A: 255}), image.Point{}, draw.Src)
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, strconv.Itoa(y)+".png"), buf.Bytes(), 0644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func execute(args ...string) error {
	cmd := NewRenderCommand()
	cmd.SetArgs(args)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	return cmd.Execute()
}

func TestRenderCommand(t *testing.T) {
	root := writeTiles(t)
	out := filepath.Join(t.TempDir(), "fragment.jpg")

	err := execute(root, "-x", "-120.5", "-y", "300", "--size-x", "40", "--size-y", "24",
		"-o", out, "-c", "red", "--ext", "png", "--tile-size", "16", "--log-level", "error")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 24 {
		t.Fatalf("expected 40x24, got %v", b)
	}
}

func TestRenderCommand_Errors(t *testing.T) {
	root := writeTiles(t)
	out := filepath.Join(t.TempDir(), "fragment.jpg")

	tests := []struct {
		name string
		args []string
		is   error
	}{
		{"missingX", []string{root, "-y", "1", "-o", out}, nil},
		{"zeroWidth", []string{root, "-x", "1", "-y", "1", "--size-x", "0", "-o", out}, render.ErrInvalidSize},
		{"badQuality", []string{root, "-x", "1", "-y", "1", "--quality", "101", "-o", out}, nil},
		{"noTiles", []string{t.TempDir(), "-x", "1", "-y", "1", "-o", out, "--log-level", "error"}, tiles.ErrNoTilesFound},
		{"tooManyArgs", []string{root, root, "-x", "1", "-y", "1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execute(tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Fatalf("expected %v, got %v", tt.is, err)
			}
		})
	}

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("failed runs must not leave output behind: %v", err)
	}
}
