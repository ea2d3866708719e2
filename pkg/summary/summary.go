// Package summary reduces the dwell tables of a session to a few statistics
// per image and writes them as YAML next to the logs.
package summary

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"lftracking/internal/models"
	"lftracking/pkg/dwell"
)

// Stats describes how dwell time is spread over the cells of one table.
type Stats struct {
	// Total is the summed dwell of every cell
	Total time.Duration `yaml:"total"`

	// Mean, StdDev and Median of the per-cell dwell, in seconds
	Mean   float64 `yaml:"meanSeconds"`
	StdDev float64 `yaml:"stdDevSeconds"`
	Median float64 `yaml:"medianSeconds"`

	// Coverage is the fraction of cells displayed at least once
	Coverage float64 `yaml:"coverage"`

	// Entropy of the dwell distribution in bits. It is 0 when all time was
	// spent on one cell and log2(cells) when it was spread evenly.
	Entropy float64 `yaml:"entropyBits"`
}

// Image summarises one tested image.
type Image struct {
	Name   string `yaml:"name"`
	Rating *int   `yaml:"rating,omitempty"`

	Perspective Stats `yaml:"perspective"`
	Refocus     Stats `yaml:"refocus"`

	// PeakView is the key of the perspective view shown longest
	PeakView string `yaml:"peakView,omitempty"`

	// PeakPlane is the depth plane shown longest
	PeakPlane *int `yaml:"peakPlane,omitempty"`
}

// Summary is the statistics of one session run.
type Summary struct {
	RunID     string    `yaml:"runId"`
	Generated time.Time `yaml:"generated"`
	Images    []Image   `yaml:"images"`
}

// Input is the dwell and rating of one image.
type Input struct {
	Timer  *dwell.Timer
	Rating int
	Rated  bool
}

// Build computes the summary of inputs.
func Build(runID string, generated time.Time, inputs []Input) *Summary {
	s := &Summary{RunID: runID, Generated: generated}
	for _, in := range inputs {
		s.Images = append(s.Images, buildImage(in))
	}
	return s
}

func buildImage(in Input) Image {
	lattice := in.Timer.Lattice()
	perspective := seconds(in.Timer.PerspectiveTotals())
	refocus := seconds(in.Timer.RefocusTotals())

	img := Image{
		Name:        in.Timer.Image(),
		Perspective: describe(perspective),
		Refocus:     describe(refocus),
	}
	if in.Rated {
		rating := in.Rating
		img.Rating = &rating
	}

	if len(perspective) > 0 && floats.Max(perspective) > 0 {
		idx := floats.MaxIdx(perspective)
		u := lattice.OriginU + idx%lattice.CountU
		v := lattice.OriginV + idx/lattice.CountU
		img.PeakView = models.Perspective(u, v).Key()
	}
	if len(refocus) > 0 && floats.Max(refocus) > 0 {
		plane := floats.MaxIdx(refocus)
		img.PeakPlane = &plane
	}
	return img
}

func seconds(totals []time.Duration) []float64 {
	out := make([]float64, len(totals))
	for i, d := range totals {
		out[i] = d.Seconds()
	}
	return out
}

func describe(cells []float64) Stats {
	var s Stats
	if len(cells) == 0 {
		return s
	}

	total := floats.Sum(cells)
	s.Total = time.Duration(math.Round(total * float64(time.Second)))

	if len(cells) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(cells, nil)
	} else {
		s.Mean = cells[0]
	}

	sorted := make([]float64, len(cells))
	copy(sorted, cells)
	sort.Float64s(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	viewed := floats.Count(func(v float64) bool { return v > 0 }, cells)
	s.Coverage = float64(viewed) / float64(len(cells))

	if total > 0 {
		p := make([]float64, len(cells))
		floats.ScaleTo(p, 1/total, cells)
		s.Entropy = stat.Entropy(p) / math.Ln2
	}
	return s
}

// Save writes the summary as YAML, creating the parent directory.
func (s *Summary) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating summary directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling summary: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing summary file: %w", err)
	}
	return nil
}

// Load reads a summary written by Save.
func Load(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading summary file: %w", err)
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing summary file: %w", err)
	}
	return &s, nil
}
