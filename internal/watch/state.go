package watch

import "errors"

// State is the lifecycle state of a Handle.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateCompleted
	StateFailed
	StateErrored
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyOpen is returned by Open while a live handle exists for the exam.
	ErrAlreadyOpen = errors.New("watch: progress stream already open")
	// ErrClosed is returned when a handle was closed before its stream connected.
	ErrClosed = errors.New("watch: handle closed")
	// errStreamEnded marks a server close that arrived before any terminal event.
	errStreamEnded = errors.New("stream ended before a terminal event")
)
