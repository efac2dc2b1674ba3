// Package colormap provides the fixed marker palette used on rendered fragments.
package colormap

import (
	"image/color"
	"strings"
)

// MarkerColor is one of the supported marker colors.
type MarkerColor int

const (
	// Red is also the fallback for unrecognized names.
	Red MarkerColor = iota
	Green
	Blue
)

var palette = [...]color.RGBA{
	Red:   {255, 0, 0, 255},
	Green: {0, 255, 0, 255},
	Blue:  {0, 0, 255, 255},
}

var names = [...]string{
	Red:   "red",
	Green: "green",
	Blue:  "blue",
}

// ParseMarkerColor maps a color name to a MarkerColor. Matching is
// case-insensitive and ignores surrounding whitespace; unknown names yield Red.
func ParseMarkerColor(name string) MarkerColor {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "green":
		return Green
	case "blue":
		return Blue
	default:
		return Red
	}
}

// RGBA returns the opaque color for c.
func (c MarkerColor) RGBA() color.RGBA {
	if c < Red || c > Blue {
		return palette[Red]
	}
	return palette[c]
}

func (c MarkerColor) String() string {
	if c < Red || c > Blue {
		return names[Red]
	}
	return names[c]
}

// Names lists the accepted color names in palette order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names[:])
	return out
}
