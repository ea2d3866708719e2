package dwell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lftracking/internal/models"
)

// Record is one closed display interval.
type Record struct {
	// Image is the name of the tested light-field image
	Image string

	// Path identifies the displayed file relative to the asset root
	Path string

	Coordinate models.Coordinate
	Start      time.Time
	End        time.Time

	// OnScreen is End - Start
	OnScreen time.Duration

	// Total is the accumulated dwell of Coordinate including this interval
	Total time.Duration
}

// Recorder receives closed display intervals and session boundaries.
type Recorder interface {
	Record(r Record) error
	Separator() error
}

// Recorders fans records out to several recorders, stopping at the first
// error.
type Recorders []Recorder

// Record forwards r to every recorder.
func (rs Recorders) Record(r Record) error {
	for _, rec := range rs {
		if err := rec.Record(r); err != nil {
			return err
		}
	}
	return nil
}

// Separator forwards the session boundary to every recorder.
func (rs Recorders) Separator() error {
	for _, rec := range rs {
		if err := rec.Separator(); err != nil {
			return err
		}
	}
	return nil
}

// ErrLogClosed is returned when writing to a closed tracking log.
var ErrLogClosed = errors.New("tracking log closed")

// TrackingLog is the append-only text log of display intervals.
//
// Each line reads
//
//	I01R1/007_007.png  start: 14:03:01.120418  end: 14:03:02.004512  on-screen: 0:00:00.884094  total: 0:00:01.310020
//
// and a blank line separates two tested images.
type TrackingLog struct {
	mu     sync.Mutex
	w      *bufio.Writer
	c      io.Closer
	closed bool
}

// NewTrackingLog writes to w. If w is an io.Closer it is closed by Close.
func NewTrackingLog(w io.Writer) *TrackingLog {
	l := &TrackingLog{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		l.c = c
	}
	return l
}

// CreateTrackingLog creates the log file at path, creating its directory.
func CreateTrackingLog(path string) (*TrackingLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracking log: %w", err)
	}
	return NewTrackingLog(f), nil
}

// Record appends one line for r.
func (l *TrackingLog) Record(r Record) error {
	return l.write(fmt.Sprintf("%s  start: %s  end: %s  on-screen: %s  total: %s\n",
		r.Path,
		FormatClock(r.Start),
		FormatClock(r.End),
		FormatDuration(r.OnScreen),
		FormatDuration(r.Total),
	))
}

// Separator appends a blank line.
func (l *TrackingLog) Separator() error {
	return l.write("\n")
}

func (l *TrackingLog) write(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	if _, err := l.w.WriteString(s); err != nil {
		return fmt.Errorf("failed to write tracking log: %w", err)
	}
	return nil
}

// Close flushes and closes the log. Only the first call has an effect.
func (l *TrackingLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	err := l.w.Flush()
	if l.c != nil {
		err = errors.Join(err, l.c.Close())
	}
	if err != nil {
		return fmt.Errorf("failed to close tracking log: %w", err)
	}
	return nil
}

// FormatClock renders the wall-clock time of t with microsecond resolution.
func FormatClock(t time.Time) string {
	return t.Format("15:04:05.000000")
}

// FormatDuration renders d as H:MM:SS.ffffff.
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	d = d.Round(time.Microsecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%s%d:%02d:%02d.%06d", sign, h, m, s, d/time.Microsecond)
}
