package models

import (
	"fmt"
	"strings"
)

// Method is the assessment methodology of a test session.
type Method int

const (
	// SingleStimulus shows only the test image.
	SingleStimulus Method = iota + 1
	// DoubleStimulus shows the test image next to its undistorted reference.
	DoubleStimulus
)

func (m Method) String() string {
	switch m {
	case SingleStimulus:
		return "single"
	case DoubleStimulus:
		return "double"
	default:
		return "unknown"
	}
}

// Panels returns the number of display slots the method needs.
func (m Method) Panels() int {
	if m == DoubleStimulus {
		return 2
	}
	return 1
}

// MarshalText encodes the method for config files.
func (m Method) MarshalText() ([]byte, error) {
	if m != SingleStimulus && m != DoubleStimulus {
		return nil, fmt.Errorf("unknown assessment method %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes "single" or "double" (case-insensitive).
func (m *Method) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "single", "single_stimulus":
		*m = SingleStimulus
	case "double", "double_stimulus":
		*m = DoubleStimulus
	default:
		return fmt.Errorf("unknown assessment method %q", text)
	}
	return nil
}

// Side selects the display slot of the test image in double-stimulus mode.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Right {
		return Left
	}
	return Right
}

// MarshalText encodes the side for config files.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes "left" or "right" (case-insensitive).
func (s *Side) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "left":
		*s = Left
	case "right":
		*s = Right
	default:
		return fmt.Errorf("unknown side %q", text)
	}
	return nil
}
