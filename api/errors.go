// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error kinds and error handling utilities for the coreloop runtime.

package api

import "fmt"

// Sentinel errors shared across the runtime packages. All of them are
// matchable with errors.Is after arbitrary wrapping.
var (
	// ErrHandleInvalid reports a stale or foreign task handle. A stale handle
	// never reaches recycled slot data; the generation check rejects it first.
	ErrHandleInvalid = fmt.Errorf("task handle is stale or invalid")

	// ErrBackpressure reports a full kernel submission queue. It is retried
	// internally and surfaces only after the retry budget is exhausted.
	ErrBackpressure = fmt.Errorf("submission queue is full")

	// ErrIoFailure reports a kernel-level I/O error delivered to the awaiting
	// task. The underlying errno is wrapped.
	ErrIoFailure = fmt.Errorf("io operation failed")

	// ErrTimeout reports a timer or bounded-wait expiry.
	ErrTimeout = fmt.Errorf("operation timed out")

	// ErrCancelled reports a task dropped before completion.
	ErrCancelled = fmt.Errorf("task cancelled")

	// ErrResolution reports a malformed or absent DNS reply.
	ErrResolution = fmt.Errorf("name resolution failed")

	// ErrNotSupported reports a backend unavailable on this platform.
	ErrNotSupported = fmt.Errorf("operation not supported")

	// ErrRuntimeClosed reports a spawn or wake attempt on a stopped pool.
	ErrRuntimeClosed = fmt.Errorf("runtime is closed")
)

// ErrorCode classifies runtime error conditions.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeHandleInvalid
	ErrCodeBackpressure
	ErrCodeIoFailure
	ErrCodeTimeout
	ErrCodeCancelled
	ErrCodeResolution
	ErrCodeNotSupported
	ErrCodeInternal
)

// Error is a structured error carrying a code and optional context values.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap maps the code back to the matching sentinel so that
// errors.Is(err, api.ErrTimeout) and friends work on structured errors.
func (e *Error) Unwrap() error {
	switch e.Code {
	case ErrCodeHandleInvalid:
		return ErrHandleInvalid
	case ErrCodeBackpressure:
		return ErrBackpressure
	case ErrCodeIoFailure:
		return ErrIoFailure
	case ErrCodeTimeout:
		return ErrTimeout
	case ErrCodeCancelled:
		return ErrCancelled
	case ErrCodeResolution:
		return ErrResolution
	case ErrCodeNotSupported:
		return ErrNotSupported
	default:
		return nil
	}
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
