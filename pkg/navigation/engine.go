// Package navigation turns pointer and slider input into the view of a
// light-field image that is displayed.
//
// The Engine is a small state machine over three coordinates: the base view
// a drag starts from, the view currently on screen and the pending view the
// last input asked for. Timed behaviour (the refocus animation and the
// preview playback) is expressed as continuations: after any call the engine
// reports through Wake whether it needs Tick to be invoked again and after
// how long. The caller owns the timer and stops calling Tick once the image
// is disposed.
package navigation

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"lftracking/internal/models"
	"lftracking/internal/timeutil"
	"lftracking/pkg/assets"
	"lftracking/pkg/dwell"
	"lftracking/pkg/imagecache"
)

// Source provides decoded views and the depth map of one image.
type Source interface {
	Get(coord models.Coordinate, stream imagecache.Stream) (image.Image, error)
	DepthMap() (*assets.DepthMap, error)
}

// Frame is what the display surface must show.
type Frame struct {
	Coordinate models.Coordinate

	// Slots holds the image of each display slot, indexed by models.Side.
	// In single-stimulus mode only the left slot is used.
	Slots [2]image.Image

	// Panels is the number of slots in use, 1 or 2
	Panels int
}

// Surface renders frames and mirrors the focus slider.
type Surface interface {
	Render(f Frame)

	// SetFocus moves the focus slider without it being a user action
	SetFocus(depth int)
}

// Options configures an Engine.
type Options struct {
	Lattice models.Lattice

	// Base is the first view displayed, the lattice center when nil
	Base *models.Coordinate

	// Unit is the number of pixels per view step when dragging
	Unit int

	Method   models.Method
	TestSide models.Side

	// RefocusStep is the delay between two planes of a refocus animation
	RefocusStep time.Duration

	// PreviewStart and PreviewEnd bound the square scanned by the preview
	PreviewStart int
	PreviewEnd   int

	// PerspectiveHold and RefocusHold are the preview frame durations
	PerspectiveHold time.Duration
	RefocusHold     time.Duration
}

type animationKind int

const (
	animNone animationKind = iota
	animRefocus
	animPreview
)

// animation is the continuation the engine is waiting to run.
type animation struct {
	kind animationKind

	// target depth of a refocus animation
	target int

	// preview playback
	seq   []models.Coordinate
	index int

	delay time.Duration
}

// Engine drives the display of one light-field image.
//
// An Engine is not safe for concurrent use. Input events and Tick must be
// delivered from the same goroutine.
type Engine struct {
	opts    Options
	source  Source
	timer   *dwell.Timer
	surface Surface
	clock   timeutil.Clock

	base    models.Coordinate
	current models.Coordinate
	pending models.Coordinate
	shown   bool

	anchor         image.Point
	previewRunning bool
	anim           animation
	disposed       bool
}

// ErrDisposed is returned by Show and Preview after Dispose.
var ErrDisposed = errors.New("navigation: engine disposed")

// New creates an engine. Nothing is displayed until Show or Preview.
func New(opts Options, source Source, timer *dwell.Timer, surface Surface, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.Unit <= 0 {
		opts.Unit = 1
	}
	if opts.Method == 0 {
		opts.Method = models.SingleStimulus
	}

	base := opts.Lattice.Center()
	if opts.Base != nil {
		base = *opts.Base
	}

	return &Engine{
		opts:    opts,
		source:  source,
		timer:   timer,
		surface: surface,
		clock:   clock,
		base:    base,
		pending: base,
	}
}

// Base returns the view drags are measured from.
func (e *Engine) Base() models.Coordinate { return e.base }

// Current returns the view on screen and whether anything was shown yet.
func (e *Engine) Current() (models.Coordinate, bool) { return e.current, e.shown }

// Pending returns the view requested by the last input.
func (e *Engine) Pending() models.Coordinate { return e.pending }

// PreviewRunning reports whether the scripted preview is playing.
func (e *Engine) PreviewRunning() bool { return e.previewRunning }

// Timer returns the dwell timer of the image.
func (e *Engine) Timer() *dwell.Timer { return e.timer }

// Show displays the base view.
func (e *Engine) Show() error {
	if e.disposed {
		return ErrDisposed
	}
	e.pending = e.base
	return e.updateDisplay()
}

// Click records the pointer position a following drag is measured from and
// makes the view on screen the new base. It is ignored during the preview.
func (e *Engine) Click(pos image.Point) {
	if e.disposed || e.previewRunning {
		return
	}
	e.stopRefocus()
	e.anchor = pos
	if e.shown {
		e.base = e.current
	}
}

// Drag moves to the perspective view offset from the base by the pointer
// displacement since the click, one view per Unit pixels. Dragging always
// leaves refocus mode. It is ignored during the preview.
func (e *Engine) Drag(pos image.Point) error {
	if e.disposed || e.previewRunning {
		return nil
	}
	e.stopRefocus()

	du := e.cells(e.anchor.X - pos.X)
	dv := e.cells(e.anchor.Y - pos.Y)

	e.pending = models.Perspective(
		e.opts.Lattice.ClampU(e.base.U()+du),
		e.opts.Lattice.ClampV(e.base.V()+dv),
	)
	if err := e.updateDisplay(); err != nil {
		return err
	}
	e.surface.SetFocus(0)
	return nil
}

// cells converts a pixel displacement to whole lattice steps. The result is
// bounded by the lattice extent so huge displacements still clamp to an edge.
func (e *Engine) cells(delta int) int {
	limit := float64(e.opts.Lattice.CountU + e.opts.Lattice.CountV)
	steps := math.Round(float64(delta) / float64(e.opts.Unit))
	return int(math.Max(-limit, math.Min(limit, steps)))
}

// RefocusToDepth shows the lattice center refocused on depth. Refocusing
// never applies to an off-center view. It is ignored during the preview.
func (e *Engine) RefocusToDepth(depth int) error {
	if e.disposed || e.previewRunning {
		return nil
	}
	e.stopRefocus()
	return e.refocusTo(depth)
}

// SliderChanged handles a value change of the focus slider. Only changes
// made by the user refocus; changes caused by SetFocus are ignored.
func (e *Engine) SliderChanged(depth int, userDriven bool) error {
	if !userDriven {
		return nil
	}
	return e.RefocusToDepth(depth)
}

// RefocusToPoint looks up the depth under pos in the depth map and animates
// the refocus towards it. It is ignored during the preview.
func (e *Engine) RefocusToPoint(pos image.Point) error {
	if e.disposed || e.previewRunning {
		return nil
	}
	dm, err := e.source.DepthMap()
	if err != nil {
		return err
	}
	return e.AnimateRefocus(dm.PlaneAt(pos, e.opts.Lattice.CountDepth))
}

// AnimateRefocus moves to target one depth plane per RefocusStep. From a
// perspective view it jumps straight to target. Calling it again once the
// target is displayed does nothing.
func (e *Engine) AnimateRefocus(target int) error {
	if e.disposed || e.previewRunning {
		return nil
	}
	target = e.clampDepth(target)
	e.anim = animation{}

	if !e.shown || !e.current.IsRefocused() {
		return e.refocusTo(target)
	}
	return e.stepRefocus(target)
}

func (e *Engine) stepRefocus(target int) error {
	depth, _ := e.current.Depth()
	if depth == target {
		e.anim = animation{}
		return nil
	}

	next := depth + 1
	if target < depth {
		next = depth - 1
	}
	if err := e.refocusTo(next); err != nil {
		e.anim = animation{}
		return err
	}

	if next != target {
		e.anim = animation{kind: animRefocus, target: target, delay: e.opts.RefocusStep}
	} else {
		e.anim = animation{}
	}
	return nil
}

func (e *Engine) refocusTo(depth int) error {
	center := e.opts.Lattice.Center()
	depth = e.clampDepth(depth)
	e.pending = models.Refocus(center.U(), center.V(), depth)
	if err := e.updateDisplay(); err != nil {
		return err
	}
	e.surface.SetFocus(depth)
	return nil
}

func (e *Engine) clampDepth(depth int) int {
	return models.Clamp(depth, 0, e.opts.Lattice.CountDepth-1)
}

func (e *Engine) stopRefocus() {
	if e.anim.kind == animRefocus {
		e.anim = animation{}
	}
}

// Preview starts the scripted playback of PreviewSequence. Input is ignored
// until it ends; the base view is displayed afterwards.
func (e *Engine) Preview() error {
	if e.disposed {
		return ErrDisposed
	}
	if e.previewRunning {
		return nil
	}

	seq := PreviewSequence(e.opts.PreviewStart, e.opts.PreviewEnd, e.base, e.opts.Lattice.CountDepth)
	e.previewRunning = true
	e.timer.Mute(true)
	e.anim = animation{kind: animPreview, seq: seq}
	return e.playPreview()
}

func (e *Engine) playPreview() error {
	if e.anim.index >= len(e.anim.seq) {
		return e.endPreview()
	}

	e.pending = e.anim.seq[e.anim.index]
	if err := e.updateDisplay(); err != nil {
		e.endPlayback()
		return err
	}

	e.anim.delay = e.opts.PerspectiveHold
	if e.pending.IsRefocused() {
		e.anim.delay = e.opts.RefocusHold
	}
	return nil
}

// endPreview restores the base view. The last preview frame is closed while
// the timer is still muted so it does not reach the tracking log.
func (e *Engine) endPreview() error {
	e.anim = animation{}
	e.previewRunning = false
	e.pending = e.base
	err := e.updateDisplay()
	e.timer.Mute(false)
	return err
}

// endPlayback abandons the preview on a failed load. The frame left on
// screen is closed while muted and timed again from now on.
func (e *Engine) endPlayback() {
	e.anim = animation{}
	e.previewRunning = false
	now := e.clock.Now()
	_ = e.timer.Close(now)
	e.timer.Mute(false)
	if e.shown {
		_ = e.timer.BeginDisplay(e.current, now)
	}
}

// Wake reports whether a continuation is pending and the delay after which
// Tick must be called.
func (e *Engine) Wake() (time.Duration, bool) {
	if e.disposed || e.anim.kind == animNone {
		return 0, false
	}
	return e.anim.delay, true
}

// Tick runs the pending continuation: the next plane of a refocus animation
// or the next frame of the preview. It is a no-op when nothing is pending or
// after Dispose.
func (e *Engine) Tick() error {
	if e.disposed {
		return nil
	}

	switch e.anim.kind {
	case animRefocus:
		if !e.current.IsRefocused() {
			e.anim = animation{}
			return nil
		}
		return e.stepRefocus(e.anim.target)
	case animPreview:
		e.anim.index++
		return e.playPreview()
	}
	return nil
}

// Dispose drops any pending continuation; later calls are ignored. A
// preview frame still on screen is closed while the timer is muted.
func (e *Engine) Dispose() {
	e.disposed = true
	e.anim = animation{}
	if e.previewRunning {
		// muted intervals never reach the recorder, so Close cannot fail
		_ = e.timer.Close(e.clock.Now())
		e.previewRunning = false
		e.timer.Mute(false)
	}
}

// Disposed reports whether Dispose was called.
func (e *Engine) Disposed() bool { return e.disposed }

// updateDisplay shows the pending view if it differs from the current one.
// The images are resolved before any state changes, so a failed load leaves
// the engine on the previous view.
func (e *Engine) updateDisplay() error {
	if e.shown && e.pending == e.current {
		return nil
	}

	frame, err := e.frame(e.pending)
	if err != nil {
		return err
	}

	timerErr := e.timer.BeginDisplay(e.pending, e.clock.Now())
	e.current = e.pending
	e.shown = true
	e.surface.Render(frame)

	if timerErr != nil {
		return fmt.Errorf("failed to record display of %s: %w", e.current, timerErr)
	}
	return nil
}

func (e *Engine) frame(coord models.Coordinate) (Frame, error) {
	frame := Frame{Coordinate: coord, Panels: e.opts.Method.Panels()}

	test, err := e.source.Get(coord, imagecache.Test)
	if err != nil {
		return Frame{}, err
	}

	if e.opts.Method != models.DoubleStimulus {
		frame.Slots[models.Left] = test
		return frame, nil
	}

	ref, err := e.source.Get(coord, imagecache.Reference)
	if err != nil {
		return Frame{}, err
	}
	frame.Slots[e.opts.TestSide] = test
	frame.Slots[e.opts.TestSide.Other()] = ref
	return frame, nil
}
