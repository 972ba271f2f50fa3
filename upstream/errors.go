package upstream

import (
	"errors"
	"fmt"
)

// ErrStreamEnded is reported when the server closes an open event stream.
var ErrStreamEnded = errors.New("upstream: stream ended")

// Error describes a failed upstream connection attempt.
type Error struct {
	// StatusCode is the HTTP status code (0 for transport-level errors).
	StatusCode int
	// Message describes the error.
	Message string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream: HTTP %d: %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream: %s: %v", e.Message, e.Err)
	}
	return "upstream: " + e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func statusError(code int) *Error {
	return &Error{StatusCode: code, Message: "unexpected status"}
}

func contentTypeError(ct string) *Error {
	return &Error{Message: fmt.Sprintf("unexpected content type %q", ct)}
}

func transportError(err error) *Error {
	return &Error{Message: "request failed", Err: err}
}
