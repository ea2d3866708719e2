package navigation

import (
	"lftracking/internal/models"
)

// PreviewSequence returns the scripted order of views shown by the preview.
//
// It first scans the perspective views of the square [start, end] x
// [start, end] row by row in serpentine order, left to right on the first
// row, right to left on the second, and so on. It then sweeps the depth
// planes of the view at (anchor.U, anchor.V) from the nearest to the
// farthest and back to the nearest.
func PreviewSequence(start, end int, anchor models.Coordinate, countDepth int) []models.Coordinate {
	var seq []models.Coordinate

	if start <= end {
		side := end - start + 1
		seq = make([]models.Coordinate, 0, side*side+2*countDepth)

		u, du := start, 1
		for v := start; v <= end; v++ {
			seq = append(seq, models.Perspective(u, v))
			for i := start; i < end; i++ {
				u += du
				seq = append(seq, models.Perspective(u, v))
			}
			du = -du
		}
	}

	for d := 0; d < 2*countDepth-1; d++ {
		depth := d
		if d >= countDepth {
			depth = 2*countDepth - 2 - d
		}
		seq = append(seq, models.Refocus(anchor.U(), anchor.V(), depth))
	}

	return seq
}
