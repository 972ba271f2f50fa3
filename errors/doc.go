// Package errors provides unified error handling for noticemux.
// It implements structured error types with taxonomy codes and
// retryable detection; wire types are derived from the codes.
package errors
