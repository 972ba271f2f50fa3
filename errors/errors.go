// Package errors provides the structured error type shared by noticemux
// components. Codes follow the shared-connection error taxonomy and map
// onto the lower-case error types carried by sse:error envelopes.
package errors

import "fmt"

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// Kind returns the wire name of the error code.
func (e *AppError) Kind() string { return e.Code.Kind() }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Detail returns a string detail, or "" when absent.
func (e *AppError) Detail(key string) string {
	if v, ok := e.Details[key].(string); ok {
		return v
	}
	return ""
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// causeMessage prefers the cause text so consumers see what actually failed.
func causeMessage(cause error, fallback string) string {
	if cause != nil {
		return cause.Error()
	}
	return fallback
}

// Configuration creates an error for a missing or incompatible endpoint.
func Configuration(message string) *AppError {
	return New(ErrCodeConfiguration, message)
}

// Initialization creates an error for a transport that could not be built.
func Initialization(cause error) *AppError {
	return New(ErrCodeInitialization, causeMessage(cause, "failed to initialize connection")).WithCause(cause)
}

// Connection creates an error for a transport-level failure.
func Connection(cause error) *AppError {
	return New(ErrCodeConnection, causeMessage(cause, "connection error")).WithCause(cause)
}

// Parsing creates an error for an inbound payload that is not valid JSON.
// The offending event type and the raw payload are kept as details.
func Parsing(eventType, raw string, cause error) *AppError {
	return New(ErrCodeParsing, causeMessage(cause, "malformed payload")).
		WithCause(cause).
		WithDetails(map[string]any{
			"eventType": eventType,
			"rawData":   raw,
		})
}

// Closing creates an error for a failure while closing the upstream connection.
func Closing(cause error) *AppError {
	return New(ErrCodeClosing, causeMessage(cause, "failed to close connection")).WithCause(cause)
}

// Termination creates an error for a failure while detaching a consumer.
func Termination(cause error) *AppError {
	return New(ErrCodeTermination, causeMessage(cause, "failed to terminate")).WithCause(cause)
}

// Worker creates an error for an unexpected failure in the shared context.
func Worker(cause error) *AppError {
	return New(ErrCodeWorker, causeMessage(cause, "worker failure")).WithCause(cause)
}

// Validation creates an error for input that failed validation.
func Validation(message string) *AppError {
	return New(ErrCodeInvalidInput, message)
}

// Internal creates an error for an unexpected internal failure.
func Internal(cause error) *AppError {
	return New(ErrCodeInternal, "An unexpected error occurred.").WithCause(cause)
}
