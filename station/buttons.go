package station

import (
	"fmt"
	"strings"
	"time"

	"github.com/reef-pi/hal"
)

// ButtonMode selects how a button poll is turned into a press
type ButtonMode int

const (
	// LevelMode reports a press on every poll that reads LOW.
	// A held button fires again on the next poll, including in the next menu.
	LevelMode ButtonMode = iota
	// EdgeMode reports a press only on a HIGH to LOW transition, debounced
	EdgeMode
)

// ParseButtonMode parses "level" or "edge"
func ParseButtonMode(s string) (ButtonMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "level":
		return LevelMode, nil
	case "edge":
		return EdgeMode, nil
	default:
		return LevelMode, fmt.Errorf("button mode must be 'level' or 'edge', got '%s'", s)
	}
}

func (m ButtonMode) String() string {
	if m == EdgeMode {
		return "edge"
	}
	return "level"
}

// button tracks one active-low input
type button struct {
	name     string
	input    hal.DigitalInputPin
	mode     ButtonMode
	debounce time.Duration

	lastHigh  bool
	lastPress time.Time
}

func newButton(name string, input hal.DigitalInputPin, mode ButtonMode, debounce time.Duration) *button {
	return &button{name: name, input: input, mode: mode, debounce: debounce, lastHigh: true}
}

// pressed polls the input once. Inputs are pulled up, so LOW means pressed.
func (b *button) pressed(now time.Time) (bool, error) {
	high, err := b.input.Read()
	if err != nil {
		return false, fmt.Errorf("read %s button: %w", b.name, err)
	}

	if b.mode == LevelMode {
		return !high, nil
	}

	fell := b.lastHigh && !high
	b.lastHigh = high
	if !fell {
		return false, nil
	}
	if !b.lastPress.IsZero() && now.Sub(b.lastPress) < b.debounce {
		return false, nil
	}
	b.lastPress = now
	return true, nil
}
