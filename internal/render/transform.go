package render

import (
	"math"

	"github.com/gtav-tiles/server/internal/data/tiles"
)

// WorldPoint is a position in game world units.
type WorldPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PixelPoint is a position in map pixel space.
type PixelPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Calibration maps world units onto the stitched map. ScaleY is negative
// because world Y grows northwards while pixel rows grow downwards.
type Calibration struct {
	ScaleX  float64 `yaml:"scale_x" json:"scale_x"`
	ScaleY  float64 `yaml:"scale_y" json:"scale_y"`
	CenterX float64 `yaml:"center_x" json:"center_x"`
	CenterY float64 `yaml:"center_y" json:"center_y"`
}

// DefaultCalibration matches the published GTA V atlas tile sets.
var DefaultCalibration = Calibration{
	ScaleX:  1.82,
	ScaleY:  -1.82,
	CenterX: 7535.12,
	CenterY: 15291.00,
}

// WorldToPixel converts p to map pixels, rounding to the nearest pixel and
// clamping into [0, width-1] x [0, height-1]. Points outside the map land
// on its nearest edge.
func (c Calibration) WorldToPixel(p WorldPoint, b tiles.Bounds) PixelPoint {
	return PixelPoint{
		X: clampRound(c.CenterX+p.X*c.ScaleX, b.Width()-1),
		Y: clampRound(c.CenterY+p.Y*c.ScaleY, b.Height()-1),
	}
}

// PixelToWorld is the unclamped inverse of WorldToPixel.
func (c Calibration) PixelToWorld(p PixelPoint) WorldPoint {
	return WorldPoint{
		X: (float64(p.X) - c.CenterX) / c.ScaleX,
		Y: (float64(p.Y) - c.CenterY) / c.ScaleY,
	}
}

func clampRound(v float64, hi int) int {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= float64(hi) {
		return hi
	}
	return int(v)
}
