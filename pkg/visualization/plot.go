package visualization

import (
	"fmt"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"lftracking/pkg/dwell"
)

// PlotRefocusDwell saves a bar chart of the dwell time of each depth plane
// of the refocus stack. The format follows the extension of filename (png,
// svg, pdf, ...).
func PlotRefocusDwell(timer *dwell.Timer, filename string) error {
	totals := timer.RefocusTotals()
	if len(totals) == 0 {
		return fmt.Errorf("%s has no depth planes", timer.Image())
	}

	values := make(plotter.Values, len(totals))
	labels := make([]string, len(totals))
	for i, d := range totals {
		values[i] = d.Seconds()
		labels[i] = strconv.Itoa(i)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Dwell per Depth Plane", timer.Image())
	p.X.Label.Text = "Depth plane"
	p.Y.Label.Text = "Dwell (s)"

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return fmt.Errorf("failed to build bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	return p.Save(6*vg.Inch, 4*vg.Inch, filename)
}
