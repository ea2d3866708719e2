// Package session sequences the tested light-field images of an assessment
// session, collects the ratings and owns the output logs.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"lftracking/internal/models"
	"lftracking/internal/monitoring"
	"lftracking/internal/timeutil"
	"lftracking/pkg/assets"
	"lftracking/pkg/config"
	"lftracking/pkg/dwell"
	"lftracking/pkg/imagecache"
	"lftracking/pkg/navigation"
)

// CompletionMessage is shown once the last image is rated.
const CompletionMessage = "Thank you!"

var (
	// ErrFinished is returned for any input after the session ended.
	ErrFinished = errors.New("session finished")

	// ErrNotStarted is returned for input received before Start.
	ErrNotStarted = errors.New("session not started")

	// ErrUnknownRating is returned by Answer for a value that is not one of
	// the configured ratings.
	ErrUnknownRating = errors.New("unknown rating")
)

// Surface is the display of a session: the image panels and focus slider
// driven by the navigation engine plus the session-level indicators.
type Surface interface {
	navigation.Surface

	// SetProgress shows the position in the session, e.g. "Image 2/12"
	SetProgress(text string)

	// SetLoading shows or hides the loading indicator
	SetLoading(loading bool)

	// Message shows a final message in place of the images
	Message(text string)
}

// TrackingLog receives display intervals and is closed at the end of the
// session.
type TrackingLog interface {
	dwell.Recorder
	io.Closer
}

// Results is an optional secondary sink for ratings and display intervals.
type Results interface {
	dwell.Recorder
	RecordRating(image string, value int) error
}

// Options wires a Controller to its collaborators.
type Options struct {
	Surface  Surface
	Tracking TrackingLog
	Answers  *AnswersLog

	// Results also receives every rating and display interval, may be nil
	Results Results

	// Loader decodes assets, assets.FileLoader when nil
	Loader assets.Loader

	// Clock is the time source, the real clock when nil
	Clock timeutil.Clock
}

// Item is one tested image of the session.
type Item struct {
	Name    string
	Lattice models.Lattice
	Cache   *imagecache.Cache
	Timer   *dwell.Timer
	Engine  *navigation.Engine
}

// Controller runs an assessment session.
//
// Like the navigation engine it is not safe for concurrent use: input,
// continuations and preload notifications are handled by one goroutine, see
// Run. Only the image caches are filled from background workers.
type Controller struct {
	cfg      *config.Config
	surface  Surface
	tracking TrackingLog
	answers  *AnswersLog
	recorder dwell.Recorder
	results  Results
	clock    timeutil.Clock

	items  []*Item
	values []*int
	index  int

	ctx      context.Context
	started  bool
	loading  bool
	finished bool
	closed   bool
}

// New builds the items of every configured image. Nothing is loaded or
// displayed until Start.
func New(cfg *config.Config, opts Options) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Surface == nil || opts.Tracking == nil || opts.Answers == nil {
		return nil, errors.New("surface, tracking log and answers log are required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	loader := opts.Loader
	if loader == nil {
		loader = assets.FileLoader{MaxWidth: cfg.Assets.MaxWidth, MaxHeight: cfg.Assets.MaxHeight}
	}

	c := &Controller{
		cfg:      cfg,
		surface:  opts.Surface,
		tracking: opts.Tracking,
		answers:  opts.Answers,
		recorder: opts.Tracking,
		results:  opts.Results,
		clock:    clock,
		values:   make([]*int, len(cfg.Images)),
		ctx:      context.Background(),
	}
	if opts.Results != nil {
		c.recorder = dwell.Recorders{opts.Tracking, opts.Results}
	}

	for _, img := range cfg.Images {
		c.items = append(c.items, c.newItem(img, loader))
	}
	return c, nil
}

func (c *Controller) newItem(img config.Image, loader assets.Loader) *Item {
	lattice := c.cfg.LatticeFor(img)
	ns := assets.NewNamespace(c.cfg.Assets.Root, img.Name, c.cfg.Assets.Format)

	cache := imagecache.New(imagecache.Options{
		Namespace: ns,
		Lattice:   lattice,
		Anchor:    lattice.Center(),
		Loader:    loader,
		Workers:   c.cfg.Preload.Workers,
	})
	timer := dwell.NewTimer(img.Name, lattice, ns.RelPath, c.recorder)
	engine := navigation.New(navigation.Options{
		Lattice:         lattice,
		Unit:            c.cfg.UnitFor(img),
		Method:          c.cfg.Session.Method,
		TestSide:        c.cfg.Session.TestImageSide,
		RefocusStep:     c.cfg.Navigation.RefocusStep,
		PreviewStart:    c.cfg.Preview.Start,
		PreviewEnd:      c.cfg.Preview.End,
		PerspectiveHold: c.cfg.Preview.PerspectiveHold,
		RefocusHold:     c.cfg.Preview.RefocusHold,
	}, cache, timer, c.surface, c.clock)

	return &Item{Name: img.Name, Lattice: lattice, Cache: cache, Timer: timer, Engine: engine}
}

// Items returns the tested images in presentation order.
func (c *Controller) Items() []*Item { return c.items }

// Index returns the position of the current image.
func (c *Controller) Index() int { return c.index }

// Current returns the image under test.
func (c *Controller) Current() *Item { return c.items[c.index] }

// AnswerAt returns the rating given to the i-th image, if any.
func (c *Controller) AnswerAt(i int) (int, bool) {
	if i < 0 || i >= len(c.values) || c.values[i] == nil {
		return 0, false
	}
	return *c.values[i], true
}

// Finished reports whether the session reached its terminal state.
func (c *Controller) Finished() bool { return c.finished }

// Loading reports whether the loading indicator is shown.
func (c *Controller) Loading() bool { return c.loading }

// Start preloads the first images and presents the first one. ctx bounds
// every background preload of the session.
func (c *Controller) Start(ctx context.Context) error {
	if c.finished {
		return ErrFinished
	}
	if c.started {
		return nil
	}
	c.started = true
	c.ctx = ctx

	if c.cfg.Preload.Enabled {
		for i := 0; i <= c.cfg.Preload.LookAhead && i < len(c.items); i++ {
			c.items[i].Cache.Preload(ctx, c.cfg.Session.Method)
		}
	}
	monitoring.Logf("session started with %d images", len(c.items))
	return c.present()
}

// present shows the current image: progress text, loading indicator and
// either the preview or the base view.
func (c *Controller) present() error {
	item := c.Current()
	c.surface.SetProgress(fmt.Sprintf("Image %d/%d", c.index+1, len(c.items)))

	if c.cfg.Preload.Enabled && !item.Cache.Loaded() {
		c.loading = true
		c.surface.SetLoading(true)
	}

	monitoring.Debugf("presenting %s", item.Name)
	if c.cfg.Session.ShowPreview {
		return item.Engine.Preview()
	}
	return item.Engine.Show()
}

// Advance moves to the next image. It does nothing on the last image.
func (c *Controller) Advance() error {
	if err := c.checkInput(); err != nil {
		return err
	}
	if c.index >= len(c.items)-1 {
		return nil
	}

	if err := c.closeCurrent(); err != nil {
		return err
	}
	c.index++

	if c.cfg.Preload.Enabled {
		if next := c.index + c.cfg.Preload.LookAhead; next < len(c.items) {
			c.items[next].Cache.Preload(c.ctx, c.cfg.Session.Method)
		}
	}

	if err := c.recorder.Separator(); err != nil {
		return err
	}
	c.surface.SetFocus(0)
	return c.present()
}

// closeCurrent ends dwell tracking of the current image and releases it.
func (c *Controller) closeCurrent() error {
	item := c.Current()
	item.Engine.Dispose()
	err := item.Timer.Close(c.clock.Now())
	if c.cfg.Preload.Enabled {
		item.Cache.Clear()
	}
	if c.loading {
		c.loading = false
		c.surface.SetLoading(false)
	}
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", item.Name, err)
	}
	return nil
}

// Answer records value as the rating of the current image, then advances,
// or finishes the session after the last image.
func (c *Controller) Answer(value int) error {
	if err := c.checkInput(); err != nil {
		return err
	}
	if !c.isRating(value) {
		return fmt.Errorf("%w: %d", ErrUnknownRating, value)
	}

	item := c.Current()
	c.values[c.index] = &value
	if err := c.answers.Write(item.Name, value); err != nil {
		return err
	}
	if c.results != nil {
		if err := c.results.RecordRating(item.Name, value); err != nil {
			return err
		}
	}
	monitoring.Debugf("%s rated %d", item.Name, value)

	if c.index < len(c.items)-1 {
		return c.Advance()
	}
	return c.Finish()
}

func (c *Controller) isRating(value int) bool {
	for _, r := range c.cfg.Session.Ratings {
		if r.Value == value {
			return true
		}
	}
	return false
}

// Key answers with the n-th rating (1-based) when digit keys are enabled,
// that is when there are at most 9 ratings. Other keys are ignored.
func (c *Controller) Key(n int) error {
	ratings := c.cfg.Session.Ratings
	if len(ratings) > 9 || n < 1 || n > len(ratings) {
		return nil
	}
	return c.Answer(ratings[n-1].Value)
}

// Finish closes the dwell tracking of the current image, flushes and closes
// both logs and shows the completion message. The session accepts no input
// afterwards.
func (c *Controller) Finish() error {
	if c.finished {
		return ErrFinished
	}
	err := c.Close()
	c.surface.Message(CompletionMessage)
	monitoring.Logf("session finished")
	return err
}

// Close ends the session without the completion message, e.g. when the
// input stream ends early. Only the first call has an effect.
func (c *Controller) Close() error {
	c.finished = true
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.started {
		errs = append(errs, c.closeCurrent())
	}
	errs = append(errs, c.tracking.Close(), c.answers.Close())
	return errors.Join(errs...)
}

func (c *Controller) checkInput() error {
	if c.finished {
		return ErrFinished
	}
	if !c.started {
		return ErrNotStarted
	}
	return nil
}

// Click forwards a mouse press to the current image.
func (c *Controller) Click(pos image.Point) error {
	if err := c.checkInput(); err != nil {
		return err
	}
	c.Current().Engine.Click(pos)
	return nil
}

// Drag forwards a mouse move with the button held.
func (c *Controller) Drag(pos image.Point) error {
	if err := c.checkInput(); err != nil {
		return err
	}
	return c.Current().Engine.Drag(pos)
}

// DoubleClick refocuses on the depth under pos.
func (c *Controller) DoubleClick(pos image.Point) error {
	if err := c.checkInput(); err != nil {
		return err
	}
	return c.Current().Engine.RefocusToPoint(pos)
}

// Slider forwards a value change of the focus slider.
func (c *Controller) Slider(depth int, userDriven bool) error {
	if err := c.checkInput(); err != nil {
		return err
	}
	return c.Current().Engine.SliderChanged(depth, userDriven)
}

// Wake reports when the current image needs Tick.
func (c *Controller) Wake() (time.Duration, bool) {
	if c.finished || !c.started {
		return 0, false
	}
	return c.Current().Engine.Wake()
}

// Tick runs the pending continuation of the current image.
func (c *Controller) Tick() error {
	if c.finished || !c.started {
		return nil
	}
	return c.Current().Engine.Tick()
}

// LoadingDone returns a channel closed when the preload the loading
// indicator waits for ends. It is nil when no indicator is shown.
func (c *Controller) LoadingDone() <-chan struct{} {
	if !c.loading || c.finished {
		return nil
	}
	return c.Current().Cache.Done()
}

// PreloadFinished dismisses the loading indicator. A failed preload of the
// current image ends the session with its error.
func (c *Controller) PreloadFinished() error {
	if !c.loading {
		return nil
	}
	item := c.Current()
	if err := item.Cache.Err(); err != nil {
		return fmt.Errorf("failed to preload %s: %w", item.Name, err)
	}
	c.loading = false
	c.surface.SetLoading(false)
	return nil
}
