// Package sse implements the text/event-stream framing used by the progress
// endpoint: a Writer for the server side and a Reader for clients.
package sse

import "errors"

// Generic event type constants.
const (
	EventTypeMessage   = "message"
	EventTypeKeepAlive = "keepalive"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("sse: streaming unsupported")

// Event is one dispatched frame of an event stream.
type Event struct {
	ID    string
	Type  string // "message" when the frame has no event field
	Data  string
	Retry int // milliseconds, 0 when absent
}
