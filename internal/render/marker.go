package render

import (
	"image"

	"github.com/fogleman/gg"

	"github.com/gtav-tiles/server/pkg/colormap"
)

// MarkerRadius is the radius of the position dot in pixels.
const MarkerRadius = 2

// DrawMarker paints a filled dot centred on pixel p, in place.
func DrawMarker(canvas *image.RGBA, p PixelPoint, c colormap.MarkerColor) {
	dc := gg.NewContextForRGBA(canvas)
	dc.SetColor(c.RGBA())
	// gg addresses pixel edges; +0.5 targets the pixel centre.
	dc.DrawCircle(float64(p.X)+0.5, float64(p.Y)+0.5, MarkerRadius)
	dc.Fill()
}
