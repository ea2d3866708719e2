package models

import (
	"fmt"
)

// Coordinate identifies one image of a light-field capture. It is either a
// perspective (sub-aperture) view at (u, v) or a refocused rendering at a
// given depth plane. Coordinates are plain values and compare with ==.
type Coordinate struct {
	u, v int

	// depth is only meaningful when refocused is set
	depth     int
	refocused bool
}

// Perspective returns the coordinate of the sub-aperture view at (u, v).
func Perspective(u, v int) Coordinate {
	return Coordinate{u: u, v: v}
}

// Refocus returns the coordinate of the view at (u, v) refocused on depth.
func Refocus(u, v, depth int) Coordinate {
	return Coordinate{u: u, v: v, depth: depth, refocused: true}
}

// U returns the horizontal viewpoint index.
func (c Coordinate) U() int { return c.u }

// V returns the vertical viewpoint index.
func (c Coordinate) V() int { return c.v }

// Depth returns the focus depth and whether the coordinate is refocused.
func (c Coordinate) Depth() (int, bool) {
	return c.depth, c.refocused
}

// IsRefocused reports whether the coordinate addresses a refocused view.
func (c Coordinate) IsRefocused() bool { return c.refocused }

// WithoutDepth drops the focus depth, returning the perspective view at the
// same (u, v).
func (c Coordinate) WithoutDepth() Coordinate {
	return Perspective(c.u, c.v)
}

// Key returns a stable identifier usable as a cache or log key. It matches
// the file stem used by the asset naming convention.
func (c Coordinate) Key() string {
	if c.refocused {
		return fmt.Sprintf("%03d_%03d_%03d", c.u, c.v, c.depth)
	}
	return fmt.Sprintf("%03d_%03d", c.u, c.v)
}

func (c Coordinate) String() string {
	if c.refocused {
		return fmt.Sprintf("(%d, %d, %d)", c.u, c.v, c.depth)
	}
	return fmt.Sprintf("(%d, %d)", c.u, c.v)
}
