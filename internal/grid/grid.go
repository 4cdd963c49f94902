// internal/grid/grid.go
// Package grid converts between the reasoning service's normalized
// 0-100 coordinate space and viewport pixels. The grid is viewport-size
// independent: (0,0) is the top-left corner, (50,50) the center,
// (100,100) the bottom-right corner.
package grid

import (
	"math"

	"github.com/xkilldash9x/gleaner/api/schemas"
)

// ToPixel maps a grid position to a pixel position for the given
// viewport. Values outside [0,100] are not clamped; they map to
// out-of-viewport pixels and propagate as-is. The executor reports the
// resulting "no element" outcome and the reasoning service corrects
// itself on the next turn.
func ToPixel(gx, gy float64, vp schemas.Viewport) (px, py int) {
	px = int(math.Round(gx / 100 * float64(vp.Width)))
	py = int(math.Round(gy / 100 * float64(vp.Height)))
	return px, py
}

// ToGrid is the inverse mapping. A zero-size viewport axis maps to 0.
func ToGrid(px, py int, vp schemas.Viewport) (gx, gy float64) {
	if vp.Width > 0 {
		gx = float64(px) / float64(vp.Width) * 100
	}
	if vp.Height > 0 {
		gy = float64(py) / float64(vp.Height) * 100
	}
	return gx, gy
}
