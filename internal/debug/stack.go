package debug

import (
	"errors"
	"log/slog"

	"replbridge/internal/logging"
	"replbridge/internal/scrape"
)

var stackLog = logging.ForComponent(logging.CompStack)

// ErrEmptyStack is returned by stack navigation when no stack has been
// parsed (the interpreter is at top level or no traceback was captured).
var ErrEmptyStack = errors.New("no call stack available")

// StackTracker holds the most recently parsed call stack and a navigation
// index into it. Index 0 is the innermost frame. Not goroutine-safe; driven
// by the owning session.
type StackTracker struct {
	frames []scrape.Frame
	index  int
}

// NewStackTracker creates an empty tracker.
func NewStackTracker() *StackTracker {
	return &StackTracker{}
}

// SetFrames replaces the tracked stack (innermost first) and clamps the
// index into the new range.
func (t *StackTracker) SetFrames(frames []scrape.Frame) {
	t.frames = frames
	if t.index >= len(frames) {
		t.index = len(frames) - 1
	}
	if t.index < 0 {
		t.index = 0
	}
}

// Reset drops the stack and returns the index to the innermost frame.
// Called on top-level control commands and on interpreter exit.
func (t *StackTracker) Reset() {
	t.frames = nil
	t.index = 0
}

// ResetIndex moves back to the innermost frame without dropping the stack.
func (t *StackTracker) ResetIndex() {
	t.index = 0
}

// Depth returns the number of tracked frames.
func (t *StackTracker) Depth() int {
	return len(t.frames)
}

// Index returns the current navigation index.
func (t *StackTracker) Index() int {
	return t.index
}

// Current returns the frame at the navigation index.
func (t *StackTracker) Current() (*scrape.Frame, error) {
	if len(t.frames) == 0 {
		return nil, ErrEmptyStack
	}
	f := t.frames[t.index]
	return &f, nil
}

// Up moves one frame outward (toward the caller). At the outermost frame the
// index stays put and clamped is true.
func (t *StackTracker) Up() (frame *scrape.Frame, clamped bool, err error) {
	if len(t.frames) == 0 {
		return nil, false, ErrEmptyStack
	}
	if t.index >= len(t.frames)-1 {
		stackLog.Debug("clamped_at_outermost", slog.Int("index", t.index))
		f := t.frames[t.index]
		return &f, true, nil
	}
	t.index++
	f := t.frames[t.index]
	return &f, false, nil
}

// Down moves one frame inward. At the innermost frame the index stays put
// and clamped is true.
func (t *StackTracker) Down() (frame *scrape.Frame, clamped bool, err error) {
	if len(t.frames) == 0 {
		return nil, false, ErrEmptyStack
	}
	if t.index <= 0 {
		stackLog.Debug("clamped_at_innermost")
		f := t.frames[0]
		return &f, true, nil
	}
	t.index--
	f := t.frames[t.index]
	return &f, false, nil
}
