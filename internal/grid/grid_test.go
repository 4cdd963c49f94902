// internal/grid/grid_test.go
package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/gleaner/api/schemas"
)

func TestToPixel(t *testing.T) {
	vp := schemas.Viewport{Width: 800, Height: 600}

	tests := []struct {
		name   string
		gx, gy float64
		px, py int
	}{
		{"center", 50, 50, 400, 300},
		{"top_left", 0, 0, 0, 0},
		{"bottom_right", 100, 100, 800, 600},
		{"rounding", 33, 33, 264, 198},
		{"quarter", 25, 75, 200, 450},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			px, py := ToPixel(tc.gx, tc.gy, vp)
			assert.Equal(t, tc.px, px)
			assert.Equal(t, tc.py, py)
		})
	}
}

// Out-of-range grid values are intentionally not clamped; they produce
// out-of-viewport pixels.
func TestToPixelNoClamping(t *testing.T) {
	vp := schemas.Viewport{Width: 800, Height: 600}

	px, py := ToPixel(150, -10, vp)
	assert.Equal(t, 1200, px)
	assert.Equal(t, -60, py)
}

// Round-tripping through pixels recovers the grid position within one
// unit of rounding tolerance.
func TestRoundTrip(t *testing.T) {
	viewports := []schemas.Viewport{
		{Width: 800, Height: 600},
		{Width: 1920, Height: 1080},
		{Width: 375, Height: 667},
	}

	for _, vp := range viewports {
		for g := 0.0; g <= 100; g += 7 {
			px, py := ToPixel(g, g, vp)
			gx, gy := ToGrid(px, py, vp)
			assert.LessOrEqual(t, math.Abs(gx-g), 1.0, "gx drifted for vp %v at %v", vp, g)
			assert.LessOrEqual(t, math.Abs(gy-g), 1.0, "gy drifted for vp %v at %v", vp, g)
		}
	}
}

func TestToGridZeroViewport(t *testing.T) {
	gx, gy := ToGrid(100, 100, schemas.Viewport{})
	assert.Zero(t, gx)
	assert.Zero(t, gy)
}
