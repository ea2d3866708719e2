package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrAnswersClosed is returned when writing to a closed answers log.
var ErrAnswersClosed = errors.New("answers log closed")

// AnswersLog stores one line per rated image:
//
//	I01R1                         : 4
type AnswersLog struct {
	mu     sync.Mutex
	w      *bufio.Writer
	c      io.Closer
	closed bool
}

// NewAnswersLog writes to w. If w is an io.Closer it is closed by Close.
func NewAnswersLog(w io.Writer) *AnswersLog {
	l := &AnswersLog{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		l.c = c
	}
	return l
}

// CreateAnswersLog creates the log file at path, creating its directory.
func CreateAnswersLog(path string) (*AnswersLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create answers log: %w", err)
	}
	return NewAnswersLog(f), nil
}

// Write appends the answer given for image.
func (l *AnswersLog) Write(image string, value int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrAnswersClosed
	}
	if _, err := fmt.Fprintf(l.w, "%-30s: %d\n", image, value); err != nil {
		return fmt.Errorf("failed to write answers log: %w", err)
	}
	return nil
}

// Close flushes and closes the log. Only the first call has an effect.
func (l *AnswersLog) Close() error {
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
		return fmt.Errorf("failed to close answers log: %w", err)
	}
	return nil
}

// TimestampLayout prefixes the output files of a session with its start
// time.
const TimestampLayout = "2006.01.02-15.04.05"

// OutputPaths returns the tracking and answers log files of a session
// started at t.
func OutputPaths(dir string, t time.Time) (tracking, answers string) {
	stamp := t.Format(TimestampLayout)
	return filepath.Join(dir, stamp+"-tracking.txt"), filepath.Join(dir, stamp+"-answers.txt")
}
