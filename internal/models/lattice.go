package models

import (
	"fmt"
)

// Lattice describes the viewable region of a light-field capture.
//
// Coordinates are absolute grid positions: the origin is the top-left
// viewpoint of the viewable window inside the captured grid, so valid
// perspective views satisfy
//
//	OriginU <= u < OriginU+CountU
//	OriginV <= v < OriginV+CountV
//
// and valid depth planes satisfy 0 <= depth < CountDepth.
type Lattice struct {
	OriginU    int `yaml:"originU"`
	OriginV    int `yaml:"originV"`
	CountU     int `yaml:"countU"`
	CountV     int `yaml:"countV"`
	CountDepth int `yaml:"countDepth"`
}

// Validate checks that the lattice describes a non-empty region.
func (l Lattice) Validate() error {
	if l.CountU <= 0 || l.CountV <= 0 {
		return fmt.Errorf("lattice must have at least one view, got %dx%d", l.CountU, l.CountV)
	}
	if l.CountDepth <= 0 {
		return fmt.Errorf("lattice must have at least one depth plane, got %d", l.CountDepth)
	}
	if l.OriginU < 0 || l.OriginV < 0 {
		return fmt.Errorf("lattice origin must be non-negative, got (%d, %d)", l.OriginU, l.OriginV)
	}
	return nil
}

// MaxU returns the last valid u index.
func (l Lattice) MaxU() int { return l.OriginU + l.CountU - 1 }

// MaxV returns the last valid v index.
func (l Lattice) MaxV() int { return l.OriginV + l.CountV - 1 }

// ClampU clamps u into the viewable window.
func (l Lattice) ClampU(u int) int { return Clamp(u, l.OriginU, l.MaxU()) }

// ClampV clamps v into the viewable window.
func (l Lattice) ClampV(v int) int { return Clamp(v, l.OriginV, l.MaxV()) }

// Center returns the middle perspective view of the window. Refocused views
// are always rendered from this viewpoint.
func (l Lattice) Center() Coordinate {
	return Perspective(l.OriginU+l.CountU/2, l.OriginV+l.CountV/2)
}

// Contains reports whether c addresses a valid image of the lattice.
func (l Lattice) Contains(c Coordinate) bool {
	if c.u < l.OriginU || c.u > l.MaxU() || c.v < l.OriginV || c.v > l.MaxV() {
		return false
	}
	if d, ok := c.Depth(); ok {
		return d >= 0 && d < l.CountDepth
	}
	return true
}

// CellIndex returns the row-major index of the perspective cell (u, v) in a
// CountU x CountV table, or -1 when it lies outside the window.
func (l Lattice) CellIndex(u, v int) int {
	if u < l.OriginU || u > l.MaxU() || v < l.OriginV || v > l.MaxV() {
		return -1
	}
	return (v-l.OriginV)*l.CountU + (u - l.OriginU)
}

// Perspectives lists every perspective view of the window in row-major
// order.
func (l Lattice) Perspectives() []Coordinate {
	coords := make([]Coordinate, 0, l.CountU*l.CountV)
	for v := l.OriginV; v <= l.MaxV(); v++ {
		for u := l.OriginU; u <= l.MaxU(); u++ {
			coords = append(coords, Perspective(u, v))
		}
	}
	return coords
}

// Clamp clamps x between minimum and maximum. It panics if the bounds are
// inverted.
func Clamp(x, minimum, maximum int) int {
	if minimum > maximum {
		panic(fmt.Sprintf("models: clamp bounds inverted: [%d, %d]", minimum, maximum))
	}
	return max(minimum, min(maximum, x))
}
