package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

const maxFrameSize = 1 << 20

// Reader decodes events from an event stream body.
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)
	return &Reader{scanner: scanner}
}

// Next blocks until a complete event has been read. Frames carrying no data
// field (comments, keep-alives) are skipped. At the end of the stream it
// returns io.EOF; a partially received frame is discarded.
func (r *Reader) Next() (Event, error) {
	var (
		data    strings.Builder
		hasData bool
		ev      Event
	)
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		if line == "" {
			if !hasData {
				ev = Event{}
				continue
			}
			ev.Data = data.String()
			if ev.Type == "" {
				ev.Type = EventTypeMessage
			}
			ev.ID = r.lastID
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			ev.Type = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
			}
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Retry = n
			}
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
