package assets

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// DepthMap is an 8-bit greyscale raster where each pixel holds the depth of
// the scene point shown at that position, 0 being the nearest plane.
type DepthMap struct {
	gray *image.Gray
}

// NewDepthMap converts img to greyscale. The returned map is addressed in
// the coordinate space of the displayed image, with (0, 0) at the top-left.
func NewDepthMap(img image.Image) *DepthMap {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return &DepthMap{gray: g}
	}

	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(gray, gray.Bounds(), img, bounds.Min, xdraw.Src)
	return &DepthMap{gray: gray}
}

// Bounds returns the raster bounds.
func (d *DepthMap) Bounds() image.Rectangle {
	return d.gray.Bounds()
}

// At returns the raw depth value at p. Pointer positions are clamped to the
// display panel by the caller, so p outside the raster is a programming
// error and panics.
func (d *DepthMap) At(p image.Point) uint8 {
	if !p.In(d.gray.Bounds()) {
		panic(fmt.Sprintf("assets: depth map lookup at %v outside %v", p, d.gray.Bounds()))
	}
	return d.gray.GrayAt(p.X, p.Y).Y
}

// PlaneAt maps the depth value at p onto one of countDepth planes:
// round(value / 255 * (countDepth - 1)), rounding half away from zero.
func (d *DepthMap) PlaneAt(p image.Point, countDepth int) int {
	normalized := float64(d.At(p)) / 255
	return int(math.Round(normalized * float64(countDepth-1)))
}
