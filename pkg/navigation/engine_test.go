package navigation

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lftracking/internal/models"
	"lftracking/internal/timeutil"
	"lftracking/pkg/assets"
	"lftracking/pkg/dwell"
	"lftracking/pkg/imagecache"
)

type sourceKey struct {
	coord  models.Coordinate
	stream imagecache.Stream
}

// fakeSource memoizes one tagged image per view so tests can tell which
// file ended up in which slot.
type fakeSource struct {
	images map[sourceKey]*taggedImage
	depth  *assets.DepthMap
	fail   map[models.Coordinate]bool
}

type taggedImage struct {
	*image.Gray
	key sourceKey
}

func newFakeSource() *fakeSource {
	return &fakeSource{images: map[sourceKey]*taggedImage{}, fail: map[models.Coordinate]bool{}}
}

func (s *fakeSource) Get(coord models.Coordinate, stream imagecache.Stream) (image.Image, error) {
	if s.fail[coord] {
		return nil, assets.ErrMissingAsset
	}
	k := sourceKey{coord, stream}
	if img, ok := s.images[k]; ok {
		return img, nil
	}
	img := &taggedImage{Gray: image.NewGray(image.Rect(0, 0, 1, 1)), key: k}
	s.images[k] = img
	return img, nil
}

func (s *fakeSource) DepthMap() (*assets.DepthMap, error) {
	if s.depth == nil {
		return nil, assets.ErrMissingAsset
	}
	return s.depth, nil
}

type fakeSurface struct {
	frames []Frame
	focus  []int
}

func (s *fakeSurface) Render(f Frame)     { s.frames = append(s.frames, f) }
func (s *fakeSurface) SetFocus(depth int) { s.focus = append(s.focus, depth) }

func (s *fakeSurface) coords() []models.Coordinate {
	out := make([]models.Coordinate, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Coordinate
	}
	return out
}

type recordSink struct{ records []dwell.Record }

func (r *recordSink) Record(rec dwell.Record) error {
	r.records = append(r.records, rec)
	return nil
}

func (r *recordSink) Separator() error { return nil }

type harness struct {
	engine  *Engine
	source  *fakeSource
	surface *fakeSurface
	clock   *timeutil.MockClock
	sink    *recordSink
}

// 11x11 lattice at the origin, center (5, 5), 11 depth planes
var wideLattice = models.Lattice{CountU: 11, CountV: 11, CountDepth: 11}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		source:  newFakeSource(),
		surface: &fakeSurface{},
		clock:   timeutil.NewMockClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		sink:    &recordSink{},
	}
	timer := dwell.NewTimer("I01R1", opts.Lattice, nil, h.sink)
	h.engine = New(opts, h.source, timer, h.surface, h.clock)
	return h
}

func (h *harness) tickAll(t *testing.T) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		d, ok := h.engine.Wake()
		if !ok {
			return
		}
		h.clock.Advance(d)
		require.NoError(t, h.engine.Tick())
	}
	t.Fatal("engine never settled")
}

func TestShowDisplaysBase(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20})

	require.NoError(t, h.engine.Show())
	cur, shown := h.engine.Current()
	assert.True(t, shown)
	assert.Equal(t, models.Perspective(5, 5), cur)
	require.Len(t, h.surface.frames, 1)
	assert.Equal(t, 1, h.surface.frames[0].Panels)

	// Showing the same view again renders nothing
	require.NoError(t, h.engine.Show())
	assert.Len(t, h.surface.frames, 1)
}

func TestDragRoundsHalfAwayFromZero(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20})
	require.NoError(t, h.engine.Show())

	// Pointer displacement (anchor - pos) of (45, -15) pixels
	h.engine.Click(image.Pt(100, 100))
	require.NoError(t, h.engine.Drag(image.Pt(55, 115)))

	assert.Equal(t, models.Perspective(7, 4), h.engine.Pending())
	cur, _ := h.engine.Current()
	assert.Equal(t, models.Perspective(7, 4), cur)

	// Exactly half a unit rounds away from zero in both directions
	require.NoError(t, h.engine.Drag(image.Pt(90, 110)))
	assert.Equal(t, models.Perspective(6, 4), h.engine.Pending())
	require.NoError(t, h.engine.Drag(image.Pt(110, 90)))
	assert.Equal(t, models.Perspective(4, 6), h.engine.Pending())

	// Drag is measured from the base, not from the previous drag position
	assert.Equal(t, models.Perspective(5, 5), h.engine.Base())
}

func TestDragClampsToLattice(t *testing.T) {
	lattice := models.Lattice{OriginU: 3, OriginV: 3, CountU: 9, CountV: 9, CountDepth: 11}
	h := newHarness(t, Options{Lattice: lattice, Unit: 20})
	require.NoError(t, h.engine.Show())

	h.engine.Click(image.Pt(0, 0))
	for _, pos := range []image.Point{
		{X: -100000, Y: -100000},
		{X: 100000, Y: 100000},
		{X: -100000, Y: 100000},
		{X: 37, Y: -4000},
	} {
		require.NoError(t, h.engine.Drag(pos))
		p := h.engine.Pending()
		assert.GreaterOrEqual(t, p.U(), 3)
		assert.LessOrEqual(t, p.U(), 11)
		assert.GreaterOrEqual(t, p.V(), 3)
		assert.LessOrEqual(t, p.V(), 11)
	}

	require.NoError(t, h.engine.Drag(image.Pt(-100000, 100000)))
	assert.Equal(t, models.Perspective(11, 3), h.engine.Pending())

	// Displacements beyond any float-to-int range still clamp to the edge
	require.NoError(t, h.engine.Drag(image.Pt(-math.MaxInt, math.MaxInt)))
	assert.Equal(t, models.Perspective(11, 3), h.engine.Pending())
	require.NoError(t, h.engine.Drag(image.Pt(math.MaxInt, -math.MaxInt)))
	assert.Equal(t, models.Perspective(3, 11), h.engine.Pending())
}

func TestClickRebasesOnCurrentView(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 10})
	require.NoError(t, h.engine.Show())

	h.engine.Click(image.Pt(50, 50))
	require.NoError(t, h.engine.Drag(image.Pt(30, 50)))
	assert.Equal(t, models.Perspective(7, 5), h.engine.Pending())

	h.engine.Click(image.Pt(200, 200))
	assert.Equal(t, models.Perspective(7, 5), h.engine.Base())
	require.NoError(t, h.engine.Drag(image.Pt(200, 190)))
	assert.Equal(t, models.Perspective(7, 6), h.engine.Pending())
}

func TestDragLeavesRefocusMode(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20})
	require.NoError(t, h.engine.Show())
	require.NoError(t, h.engine.RefocusToDepth(4))

	h.engine.Click(image.Pt(0, 0))
	// The base is now the refocused view; a drag keeps its (u, v) but drops the depth
	require.NoError(t, h.engine.Drag(image.Pt(0, 0)))
	assert.Equal(t, models.Perspective(5, 5), h.engine.Pending())
	assert.Equal(t, []int{4, 0}, h.surface.focus)
}

func TestRefocusToDepthRecenters(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20})
	require.NoError(t, h.engine.Show())

	h.engine.Click(image.Pt(0, 0))
	require.NoError(t, h.engine.Drag(image.Pt(-60, -60)))
	require.NoError(t, h.engine.RefocusToDepth(3))

	cur, _ := h.engine.Current()
	assert.Equal(t, models.Refocus(5, 5, 3), cur)

	// Out of range depths are clamped
	require.NoError(t, h.engine.RefocusToDepth(42))
	cur, _ = h.engine.Current()
	assert.Equal(t, models.Refocus(5, 5, 10), cur)
}

func TestSliderIgnoresProgrammaticChanges(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20})
	require.NoError(t, h.engine.Show())

	require.NoError(t, h.engine.SliderChanged(6, false))
	cur, _ := h.engine.Current()
	assert.Equal(t, models.Perspective(5, 5), cur)

	require.NoError(t, h.engine.SliderChanged(6, true))
	cur, _ = h.engine.Current()
	assert.Equal(t, models.Refocus(5, 5, 6), cur)
}

func TestAnimateRefocusSteps(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20, RefocusStep: 10 * time.Millisecond})
	require.NoError(t, h.engine.Show())
	require.NoError(t, h.engine.RefocusToDepth(2))
	h.surface.frames = nil

	require.NoError(t, h.engine.AnimateRefocus(7))
	d, ok := h.engine.Wake()
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, d)
	h.tickAll(t)

	var depths []int
	for _, c := range h.surface.coords() {
		depth, ok := c.Depth()
		require.True(t, ok)
		depths = append(depths, depth)
	}
	assert.Equal(t, []int{3, 4, 5, 6, 7}, depths)

	// Already at the target: nothing happens and nothing is scheduled
	require.NoError(t, h.engine.AnimateRefocus(7))
	_, ok = h.engine.Wake()
	assert.False(t, ok)
	assert.Len(t, h.surface.frames, 5)

	// And back down
	h.surface.frames = nil
	require.NoError(t, h.engine.AnimateRefocus(5))
	h.tickAll(t)
	assert.Equal(t, []models.Coordinate{models.Refocus(5, 5, 6), models.Refocus(5, 5, 5)}, h.surface.coords())
}

func TestAnimateRefocusJumpsFromPerspective(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20, RefocusStep: time.Millisecond})
	require.NoError(t, h.engine.Show())

	require.NoError(t, h.engine.AnimateRefocus(8))
	cur, _ := h.engine.Current()
	assert.Equal(t, models.Refocus(5, 5, 8), cur)
	_, ok := h.engine.Wake()
	assert.False(t, ok)
}

func TestDragCancelsRefocusAnimation(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20, RefocusStep: time.Millisecond})
	require.NoError(t, h.engine.Show())
	require.NoError(t, h.engine.RefocusToDepth(0))
	require.NoError(t, h.engine.AnimateRefocus(10))

	h.engine.Click(image.Pt(0, 0))
	_, ok := h.engine.Wake()
	assert.False(t, ok)

	// A stale tick does nothing
	require.NoError(t, h.engine.Tick())
	cur, _ := h.engine.Current()
	assert.Equal(t, models.Refocus(5, 5, 1), cur)
}

func TestRefocusToPointUsesDepthMap(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20, RefocusStep: time.Millisecond})
	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	gray.SetGray(2, 3, color.Gray{Y: 255})
	gray.SetGray(1, 1, color.Gray{Y: 102}) // 0.4 * 10 = 4
	h.source.depth = assets.NewDepthMap(gray)

	require.NoError(t, h.engine.Show())
	require.NoError(t, h.engine.RefocusToPoint(image.Pt(2, 3)))
	cur, _ := h.engine.Current()
	assert.Equal(t, models.Refocus(5, 5, 10), cur)

	require.NoError(t, h.engine.RefocusToPoint(image.Pt(1, 1)))
	h.tickAll(t)
	cur, _ = h.engine.Current()
	assert.Equal(t, models.Refocus(5, 5, 4), cur)

	assert.Panics(t, func() { _ = h.engine.RefocusToPoint(image.Pt(9, 9)) })
}

func TestRefocusToPointMissingDepthMap(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20})
	require.NoError(t, h.engine.Show())
	assert.ErrorIs(t, h.engine.RefocusToPoint(image.Pt(0, 0)), assets.ErrMissingAsset)
}

func previewOptions() Options {
	return Options{
		Lattice:         models.Lattice{OriginU: 3, OriginV: 3, CountU: 3, CountV: 3, CountDepth: 3},
		Unit:            20,
		RefocusStep:     time.Millisecond,
		PreviewStart:    3,
		PreviewEnd:      5,
		PerspectiveHold: 100 * time.Millisecond,
		RefocusHold:     250 * time.Millisecond,
	}
}

func TestPreviewPlayback(t *testing.T) {
	h := newHarness(t, previewOptions())

	require.NoError(t, h.engine.Preview())
	assert.True(t, h.engine.PreviewRunning())
	d, ok := h.engine.Wake()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d)

	// Input is ignored while the preview runs
	h.engine.Click(image.Pt(0, 0))
	require.NoError(t, h.engine.Drag(image.Pt(100, 100)))
	require.NoError(t, h.engine.RefocusToDepth(2))
	require.NoError(t, h.engine.AnimateRefocus(2))
	assert.Len(t, h.surface.frames, 1)

	var holds []time.Duration
	for {
		d, ok := h.engine.Wake()
		if !ok {
			break
		}
		holds = append(holds, d)
		h.clock.Advance(d)
		require.NoError(t, h.engine.Tick())
	}

	assert.False(t, h.engine.PreviewRunning())
	P, R := models.Perspective, models.Refocus
	assert.Equal(t, []models.Coordinate{
		P(3, 3), P(4, 3), P(5, 3),
		P(5, 4), P(4, 4), P(3, 4),
		P(3, 5), P(4, 5), P(5, 5),
		R(4, 4, 0), R(4, 4, 1), R(4, 4, 2), R(4, 4, 1), R(4, 4, 0),
		P(4, 4),
	}, h.surface.coords())

	require.Len(t, holds, 14)
	assert.Equal(t, 100*time.Millisecond, holds[8])
	assert.Equal(t, 250*time.Millisecond, holds[9])
	assert.Equal(t, 250*time.Millisecond, holds[13])

	// Preview frames reach neither the tracking log nor the dwell totals
	assert.Empty(t, h.sink.records)
	assert.Equal(t, time.Duration(0), h.engine.Timer().Total(R(4, 4, 2)))
	assert.Equal(t, time.Duration(0), h.engine.Timer().Total(R(4, 4, 0)))
	assert.Equal(t, 9*100*time.Millisecond+5*250*time.Millisecond, h.engine.Timer().MutedTotal())

	// Interaction resumes afterwards and is logged again
	h.engine.Click(image.Pt(0, 0))
	require.NoError(t, h.engine.Drag(image.Pt(-20, 0)))
	assert.Equal(t, P(5, 4), h.engine.Pending())
	require.Len(t, h.sink.records, 1)
	assert.Equal(t, P(4, 4), h.sink.records[0].Coordinate)
}

func TestDisposeStopsContinuations(t *testing.T) {
	h := newHarness(t, previewOptions())
	require.NoError(t, h.engine.Preview())
	require.NoError(t, h.engine.Tick())
	rendered := len(h.surface.frames)

	h.engine.Dispose()
	_, ok := h.engine.Wake()
	assert.False(t, ok)
	require.NoError(t, h.engine.Tick())
	assert.Len(t, h.surface.frames, rendered)
	assert.False(t, h.engine.PreviewRunning())

	assert.ErrorIs(t, h.engine.Show(), ErrDisposed)
	assert.ErrorIs(t, h.engine.Preview(), ErrDisposed)
	require.NoError(t, h.engine.Drag(image.Pt(1, 1)))
	assert.Len(t, h.surface.frames, rendered)
}

func TestDisposeDuringPreviewKeepsFrameMuted(t *testing.T) {
	h := newHarness(t, previewOptions())
	require.NoError(t, h.engine.Preview())
	h.clock.Advance(40 * time.Millisecond)

	h.engine.Dispose()
	_, _, open := h.engine.Timer().Current()
	assert.False(t, open)

	// Closing the timer afterwards must not log the interrupted frame
	require.NoError(t, h.engine.Timer().Close(h.clock.Now().Add(time.Second)))
	assert.Empty(t, h.sink.records)
	assert.Equal(t, time.Duration(0), h.engine.Timer().Sum())
	assert.Equal(t, 40*time.Millisecond, h.engine.Timer().MutedTotal())
}

func TestFailedPreviewFrameStaysMuted(t *testing.T) {
	h := newHarness(t, previewOptions())
	h.source.fail[models.Perspective(4, 3)] = true
	require.NoError(t, h.engine.Preview())

	h.clock.Advance(100 * time.Millisecond)
	assert.ErrorIs(t, h.engine.Tick(), assets.ErrMissingAsset)
	assert.False(t, h.engine.PreviewRunning())

	// Only the time after the failure is logged for the frame left on screen
	h.clock.Advance(time.Second)
	require.NoError(t, h.engine.Timer().Close(h.clock.Now()))
	require.Len(t, h.sink.records, 1)
	assert.Equal(t, models.Perspective(3, 3), h.sink.records[0].Coordinate)
	assert.Equal(t, time.Second, h.sink.records[0].OnScreen)
	assert.Equal(t, 100*time.Millisecond, h.engine.Timer().MutedTotal())
}

func TestDoubleStimulusSlots(t *testing.T) {
	for _, side := range []models.Side{models.Left, models.Right} {
		t.Run(side.String(), func(t *testing.T) {
			h := newHarness(t, Options{Lattice: wideLattice, Unit: 20, Method: models.DoubleStimulus, TestSide: side})
			require.NoError(t, h.engine.Show())

			require.Len(t, h.surface.frames, 1)
			f := h.surface.frames[0]
			assert.Equal(t, 2, f.Panels)
			assert.Equal(t, imagecache.Test, f.Slots[side].(*taggedImage).key.stream)
			assert.Equal(t, imagecache.Reference, f.Slots[side.Other()].(*taggedImage).key.stream)
		})
	}
}

func TestLoadFailureKeepsCurrentView(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 20})
	require.NoError(t, h.engine.Show())
	h.source.fail[models.Perspective(6, 5)] = true

	h.engine.Click(image.Pt(20, 0))
	err := h.engine.Drag(image.Pt(0, 0))
	assert.True(t, errors.Is(err, assets.ErrMissingAsset))

	cur, _ := h.engine.Current()
	assert.Equal(t, models.Perspective(5, 5), cur)
	assert.Len(t, h.surface.frames, 1)
}

func TestDwellFollowsTransitions(t *testing.T) {
	h := newHarness(t, Options{Lattice: wideLattice, Unit: 10})
	require.NoError(t, h.engine.Show())
	a, b := models.Perspective(5, 5), models.Perspective(6, 5)

	h.engine.Click(image.Pt(10, 0))
	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.engine.Drag(image.Pt(0, 0)))
	h.clock.Advance(3 * time.Second)
	require.NoError(t, h.engine.Drag(image.Pt(10, 0)))
	h.clock.Advance(4 * time.Second)
	require.NoError(t, h.engine.Drag(image.Pt(0, 0)))

	timer := h.engine.Timer()
	assert.Equal(t, 6*time.Second, timer.Total(a))
	assert.Equal(t, 3*time.Second, timer.Total(b))
	require.Len(t, h.sink.records, 3)
	assert.Equal(t, "I01R1/005_005", h.sink.records[0].Path)
}
