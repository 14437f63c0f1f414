package proto

import (
	"time"

	"replbridge/internal/debug"
	"replbridge/internal/scrape"
)

// EventType identifies what a session event carries.
type EventType int

const (
	// EventFrameChanged carries the new stop location, or nil to clear it.
	EventFrameChanged EventType = iota
	// EventBreakpointsChanged carries the full breakpoint table.
	EventBreakpointsChanged
	// EventErrorLogged carries a newly logged interpreter error.
	EventErrorLogged
	// EventOutput carries committed interpreter output text.
	EventOutput
	// EventStateChanged carries the interpreter running flag.
	EventStateChanged
	// EventCommandSent carries the text of a just-dispatched command.
	// Silent commands are not announced.
	EventCommandSent
)

func (t EventType) String() string {
	switch t {
	case EventFrameChanged:
		return "frame"
	case EventBreakpointsChanged:
		return "breakpoints"
	case EventErrorLogged:
		return "error"
	case EventOutput:
		return "output"
	case EventStateChanged:
		return "state"
	case EventCommandSent:
		return "command"
	default:
		return "unknown"
	}
}

// Event is delivered to session subscribers. Only the fields relevant to
// Type are populated.
type Event struct {
	Type        EventType
	Frame       *scrape.Frame
	Breakpoints []debug.Breakpoint
	Error       *ErrorEntry
	Output      string
	Running     bool

	// Note carries a short human-readable annotation, e.g. the boundary
	// message when stack navigation clamps.
	Note string
}

// ErrorEntry is one logged interpreter error with its parsed location, if
// any. Col is the caret column (0 when absent).
type ErrorEntry struct {
	Text  string
	Frame *scrape.Frame
	Col   int
	At    time.Time
}
