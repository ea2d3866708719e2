// Package dwell measures how long each view of a light-field image stays on
// screen.
package dwell

import (
	"time"

	"lftracking/internal/models"
)

// Timer accumulates on-screen time per view of one tested image.
//
// Perspective and refocused views are shown in mutually exclusive display
// modes, so their totals are kept in two independent tables: one cell per
// perspective view of the lattice and one per depth plane.
//
// A Timer is not safe for concurrent use; it belongs to the session loop.
type Timer struct {
	image   string
	lattice models.Lattice
	path    func(models.Coordinate) string
	rec     Recorder

	perspective []time.Duration
	refocus     []time.Duration
	muteTotal   time.Duration

	open    bool
	current models.Coordinate
	start   time.Time
	muted   bool
}

// NewTimer creates a timer for the image called name. path names a view in
// emitted records; rec may be nil.
func NewTimer(name string, lattice models.Lattice, path func(models.Coordinate) string, rec Recorder) *Timer {
	if path == nil {
		path = func(c models.Coordinate) string { return name + "/" + c.Key() }
	}
	return &Timer{
		image:       name,
		lattice:     lattice,
		path:        path,
		rec:         rec,
		perspective: make([]time.Duration, lattice.CountU*lattice.CountV),
		refocus:     make([]time.Duration, lattice.CountDepth),
	}
}

// Mute diverts intervals closed from now on away from the per-view tables
// and the recorder; they only add to MutedTotal. The preview uses it to
// keep scripted frames out of the tracking log and the dwell totals.
func (t *Timer) Mute(muted bool) {
	t.muted = muted
}

// BeginDisplay marks coord as displayed from now on. If another view was
// being displayed its interval is closed first, accumulated and recorded.
// The very first display after creation or Reset only starts the clock.
func (t *Timer) BeginDisplay(coord models.Coordinate, now time.Time) error {
	err := t.Close(now)
	t.open = true
	t.current = coord
	t.start = now
	return err
}

// Close ends the open interval, if any, without starting a new one.
func (t *Timer) Close(now time.Time) error {
	if !t.open {
		return nil
	}
	t.open = false

	onScreen := now.Sub(t.start)
	if t.muted {
		t.muteTotal += onScreen
		return nil
	}
	total := t.add(t.current, onScreen)

	if t.rec == nil {
		return nil
	}
	return t.rec.Record(Record{
		Image:      t.image,
		Path:       t.path(t.current),
		Coordinate: t.current,
		Start:      t.start,
		End:        now,
		OnScreen:   onScreen,
		Total:      total,
	})
}

// Reset forgets the open interval without accumulating it.
func (t *Timer) Reset() {
	t.open = false
}

// Current returns the view being timed and when it was first displayed.
func (t *Timer) Current() (models.Coordinate, time.Time, bool) {
	return t.current, t.start, t.open
}

func (t *Timer) add(coord models.Coordinate, d time.Duration) time.Duration {
	if depth, ok := coord.Depth(); ok {
		if depth < 0 || depth >= len(t.refocus) {
			return d
		}
		t.refocus[depth] += d
		return t.refocus[depth]
	}
	idx := t.lattice.CellIndex(coord.U(), coord.V())
	if idx < 0 {
		return d
	}
	t.perspective[idx] += d
	return t.perspective[idx]
}

// MutedTotal returns the time spent on intervals closed while muted.
func (t *Timer) MutedTotal() time.Duration { return t.muteTotal }

// Total returns the accumulated closed intervals of coord.
func (t *Timer) Total(coord models.Coordinate) time.Duration {
	if depth, ok := coord.Depth(); ok {
		if depth < 0 || depth >= len(t.refocus) {
			return 0
		}
		return t.refocus[depth]
	}
	idx := t.lattice.CellIndex(coord.U(), coord.V())
	if idx < 0 {
		return 0
	}
	return t.perspective[idx]
}

// Sum returns the total of every closed interval outside of muted spans.
func (t *Timer) Sum() time.Duration {
	var sum time.Duration
	for _, d := range t.perspective {
		sum += d
	}
	for _, d := range t.refocus {
		sum += d
	}
	return sum
}

// PerspectiveTotals returns a copy of the perspective table in row-major
// order (see models.Lattice.CellIndex).
func (t *Timer) PerspectiveTotals() []time.Duration {
	out := make([]time.Duration, len(t.perspective))
	copy(out, t.perspective)
	return out
}

// RefocusTotals returns a copy of the depth-plane table.
func (t *Timer) RefocusTotals() []time.Duration {
	out := make([]time.Duration, len(t.refocus))
	copy(out, t.refocus)
	return out
}

// Lattice returns the lattice the tables are laid out on.
func (t *Timer) Lattice() models.Lattice { return t.lattice }

// Image returns the name of the timed image.
func (t *Timer) Image() string { return t.image }
