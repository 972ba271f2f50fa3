package errors

import "strings"

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Shared-connection error taxonomy.
const (
	// ErrCodeConfiguration indicates a missing or incompatible endpoint configuration.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"
	// ErrCodeInitialization indicates the upstream transport could not be constructed.
	ErrCodeInitialization ErrorCode = "INITIALIZATION"
	// ErrCodeConnection indicates a transport-level failure of the upstream connection.
	ErrCodeConnection ErrorCode = "CONNECTION"
	// ErrCodeParsing indicates a malformed inbound payload.
	ErrCodeParsing ErrorCode = "PARSING"
	// ErrCodeTermination indicates a failure while detaching a consumer.
	ErrCodeTermination ErrorCode = "TERMINATION"
	// ErrCodeClosing indicates a failure while closing the upstream connection.
	ErrCodeClosing ErrorCode = "CLOSING"
	// ErrCodeWorker indicates an unexpected failure inside the shared context.
	ErrCodeWorker ErrorCode = "WORKER"
)

// Generic errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeConnection:     true,
	ErrCodeInitialization: false,
	ErrCodeInternal:       false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

// Kind returns the lower-case name used for the code on the wire,
// e.g. "configuration" or "parsing".
func (c ErrorCode) Kind() string {
	return strings.ToLower(string(c))
}
