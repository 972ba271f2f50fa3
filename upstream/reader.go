package upstream

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// maxLineSize bounds a single SSE line; larger lines fail the stream.
const maxLineSize = 1 << 20

// Event represents a single server-sent event.
type Event struct {
	// Event is the SSE event type (from "event:" line). Empty for data-only events.
	Event string
	// Data is the event payload (from "data:" line(s)). Multi-line data is joined with newlines.
	Data string
	// ID is the stream's last event ID when the block was read. It persists
	// across blocks until an "id:" line changes it.
	ID string
	// Retry is the reconnection time set by this block, zero when absent.
	Retry time.Duration
	// Control marks a block without data that only set the ID or Retry.
	// It is not dispatched as an event.
	Control bool
}

// Name returns the dispatch name of the event: unnamed events are "message".
func (e *Event) Name() string {
	if e.Event == "" {
		return EventMessage
	}
	return e.Event
}

// Reader reads server-sent events from a stream.
type Reader interface {
	// Next returns the next SSE event. Returns io.EOF when the stream ends.
	Next() (*Event, error)
	// Close releases the underlying resources.
	Close() error
}

type reader struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
	lastID  string
}

// NewReader creates an SSE reader from a readable stream.
func NewReader(body io.ReadCloser) Reader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &reader{scanner: scanner, body: body}
}

// Next returns the next dispatchable event, or a Control block when a
// block without data set the ID or retry. Returns io.EOF when the stream
// ends.
func (r *reader) Next() (*Event, error) {
	var event Event
	var hasData, control bool

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Blank line dispatches the event.
		if line == "" {
			switch {
			case hasData:
				event.ID = r.lastID
				return &event, nil
			case control:
				return &Event{ID: r.lastID, Retry: event.Retry, Control: true}, nil
			}
			event = Event{}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := parseSSELine(line)
		switch field {
		case "data":
			if hasData {
				event.Data += "\n" + value
			} else {
				event.Data = value
				hasData = true
			}
		case "event":
			event.Event = value
		case "id":
			// Ids containing NUL are ignored.
			if !strings.ContainsRune(value, 0) {
				r.lastID = value
				control = true
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				event.Retry = time.Duration(ms) * time.Millisecond
				control = true
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// An event without the terminating blank line is incomplete; drop it.
	return nil, io.EOF
}

// Close releases the underlying stream.
func (r *reader) Close() error {
	return r.body.Close()
}

// parseSSELine parses a single SSE line into field and value.
func parseSSELine(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	if value != "" && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
