// Package visualization renders where a rater spent their time as greyscale
// heat maps: one cell per perspective view of the lattice and one per depth
// plane of the refocus stack.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"

	"lftracking/pkg/dwell"
)

// HeatMap is a grid of non-negative values laid out in row-major order.
type HeatMap struct {
	// values holds one entry per cell
	values []float64

	// dimensions of the grid in cells
	width  int
	height int
}

// NewHeatMap creates a heat map of width x height cells.
func NewHeatMap(values []float64, width, height int) (*HeatMap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("heat map dimensions must be positive, got %dx%d", width, height)
	}
	if len(values) != width*height {
		return nil, fmt.Errorf("heat map needs %d values, got %d", width*height, len(values))
	}
	return &HeatMap{values: values, width: width, height: height}, nil
}

// FromDurations converts dwell totals to a heat map.
func FromDurations(totals []time.Duration, width, height int) (*HeatMap, error) {
	values := make([]float64, len(totals))
	for i, d := range totals {
		values[i] = d.Seconds()
	}
	return NewHeatMap(values, width, height)
}

// Image renders the map with cells of scale x scale pixels. The longest
// dwell is white; a map with no dwell at all is black.
func (h *HeatMap) Image(scale int) image.Image {
	if scale < 1 {
		scale = 1
	}

	peak := 0.0
	for _, v := range h.values {
		peak = math.Max(peak, v)
	}

	cells := image.NewGray16(image.Rect(0, 0, h.width, h.height))
	for y := 0; y < h.height; y++ {
		for x := 0; x < h.width; x++ {
			if peak == 0 {
				continue
			}
			norm := h.values[y*h.width+x] / peak
			value := uint16(math.Max(0, math.Min(65535, norm*65535)))
			cells.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	if scale == 1 {
		return cells
	}

	out := image.NewGray16(image.Rect(0, 0, h.width*scale, h.height*scale))
	xdraw.NearestNeighbor.Scale(out, out.Bounds(), cells, cells.Bounds(), xdraw.Src, nil)
	return out
}

// Save encodes img to filename, as JPEG for a .jpg or .jpeg extension and
// as PNG otherwise.
func Save(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	return errors.Join(err, file.Close())
}

// SaveDwellMaps writes the perspective and refocus heat maps of one image
// to outputDir as {image}_perspective.png and {image}_refocus.png, with a
// bar chart of the refocus dwell as {image}_refocus_plot.png. It returns the
// written files.
func SaveDwellMaps(timer *dwell.Timer, outputDir string, scale int) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	lattice := timer.Lattice()
	perspective, err := FromDurations(timer.PerspectiveTotals(), lattice.CountU, lattice.CountV)
	if err != nil {
		return nil, err
	}
	refocus, err := FromDurations(timer.RefocusTotals(), lattice.CountDepth, 1)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, m := range []struct {
		suffix string
		heat   *HeatMap
	}{
		{"perspective", perspective},
		{"refocus", refocus},
	} {
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.png", timer.Image(), m.suffix))
		if err := Save(m.heat.Image(scale), filename); err != nil {
			return files, fmt.Errorf("failed to save %s: %w", filename, err)
		}
		files = append(files, filename)
	}

	filename := filepath.Join(outputDir, timer.Image()+"_refocus_plot.png")
	if err := PlotRefocusDwell(timer, filename); err != nil {
		return files, fmt.Errorf("failed to save %s: %w", filename, err)
	}
	return append(files, filename), nil
}
