package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lftracking/internal/timeutil"
	"lftracking/pkg/navigation"
)

// EventKind identifies a user input.
type EventKind int

const (
	// EventClick is a mouse press on an image panel
	EventClick EventKind = iota + 1
	// EventDrag is a mouse move with the button held
	EventDrag
	// EventDoubleClick refocuses on the depth under the pointer
	EventDoubleClick
	// EventSlider is a change of the focus slider
	EventSlider
	// EventAnswer is a press of an answer button
	EventAnswer
	// EventKey is a digit key press selecting a rating
	EventKey
)

var eventNames = map[EventKind]string{
	EventClick:       "click",
	EventDrag:        "drag",
	EventDoubleClick: "doubleclick",
	EventSlider:      "slider",
	EventAnswer:      "answer",
	EventKey:         "key",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	if _, ok := eventNames[k]; !ok {
		return nil, fmt.Errorf("unknown event kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for kind, name := range eventNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", s)
}

// Event is one user input. X and Y locate pointer events on the image
// panel; Value carries the slider depth, the rating or the digit key.
type Event struct {
	Kind  EventKind `yaml:"kind"`
	X     int       `yaml:"x,omitempty"`
	Y     int       `yaml:"y,omitempty"`
	Value int       `yaml:"value,omitempty"`

	// Programmatic marks a slider change not made by the user
	Programmatic bool `yaml:"programmatic,omitempty"`
}

// Pos returns the pointer position of the event.
func (e Event) Pos() image.Point { return image.Pt(e.X, e.Y) }

// Dispatch delivers ev to the session.
func (c *Controller) Dispatch(ev Event) error {
	switch ev.Kind {
	case EventClick:
		return c.Click(ev.Pos())
	case EventDrag:
		return c.Drag(ev.Pos())
	case EventDoubleClick:
		return c.DoubleClick(ev.Pos())
	case EventSlider:
		return c.Slider(ev.Value, !ev.Programmatic)
	case EventAnswer:
		return c.Answer(ev.Value)
	case EventKey:
		return c.Key(ev.Value)
	}
	return fmt.Errorf("unknown event kind %d", int(ev.Kind))
}

// Run starts the session and handles input events, scheduled continuations
// and preload completion on the calling goroutine until the session
// finishes, events is closed or ctx is done. A closed event stream ends the
// session early; the logs are closed in every case.
func (c *Controller) Run(ctx context.Context, events <-chan Event) error {
	if err := c.Start(ctx); err != nil {
		return errors.Join(err, c.Close())
	}

	timer := c.clock.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	// The timer is re-armed only when the pending continuation changes, so
	// unrelated input does not stretch a preview frame or animation step.
	var (
		armed       bool
		armedEngine *navigation.Engine
	)
	schedule := func() {
		d, ok := c.Wake()
		engine := c.Current().Engine
		switch {
		case !ok:
			if armed {
				timer.Stop()
				armed = false
			}
		case !armed || armedEngine != engine:
			timer.Reset(d)
			armed = true
			armedEngine = engine
		}
	}
	schedule()

	for !c.finished {
		var err error
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), c.Close())
		case ev, ok := <-events:
			if !ok {
				return c.Close()
			}
			err = c.Dispatch(ev)
		case <-timer.C():
			armed = false
			err = c.Tick()
		case <-c.LoadingDone():
			err = c.PreloadFinished()
		}
		if err != nil {
			return errors.Join(err, c.Close())
		}
		schedule()
	}
	return nil
}

// Step is one entry of an input script: an event delivered Wait after the
// previous one.
type Step struct {
	Event `yaml:",inline"`
	Wait  time.Duration `yaml:"wait,omitempty"`
}

// LoadScript reads a YAML list of steps.
func LoadScript(path string) ([]Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading event script: %w", err)
	}
	var steps []Step
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("error parsing event script: %w", err)
	}
	return steps, nil
}

// Replay sends the events of steps to out, waiting on clock between them,
// and closes out when done.
func Replay(ctx context.Context, clock timeutil.Clock, steps []Step, out chan<- Event) error {
	defer close(out)
	for _, step := range steps {
		if step.Wait > 0 {
			t := clock.NewTimer(step.Wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C():
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- step.Event:
		}
	}
	return nil
}
