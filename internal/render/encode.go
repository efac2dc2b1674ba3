package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 100

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 256*1024))
	},
}

// NormalizeQuality maps q into the JPEG quality range, treating 0 as the default.
func NormalizeQuality(q int) int {
	switch {
	case q == 0:
		return DefaultJPEGQuality
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}

// WriteJPEG encodes img to w.
func WriteJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: NormalizeQuality(quality)})
}

// EncodeJPEG encodes img and returns the bytes.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	if err := WriteJPEG(buf, img, quality); err != nil {
		return nil, fmt.Errorf("failed to encode fragment: %w", err)
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// WriteFile encodes img as JPEG to path. The file is written to a temporary
// sibling first and renamed into place, so readers never see a partial image.
func WriteFile(path string, img image.Image, quality int) error {
	data, err := EncodeJPEG(img, quality)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write fragment: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync fragment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close fragment: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
