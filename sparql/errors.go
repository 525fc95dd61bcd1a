package sparql

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidArgument is returned by the builder for malformed input: unset
// terms, wildcards where concrete terms are required, or empty triple sets.
// It indicates a wiring defect and is never retried.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrMalformedResult is returned when a query response cannot be parsed.
var ErrMalformedResult = errors.New("malformed query result")

// TransientError represents a delivery failure that may succeed later.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a rejection that will not succeed on retry.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// StatusError carries the status of a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("triple store returned status %d: %s", e.StatusCode, e.Body)
}

// classifyHTTPError determines if a non-2xx response is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := &StatusError{StatusCode: statusCode, Body: bodyStr}

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout:
		return NewTransientError(err)
	case statusCode >= 500:
		// Includes 502/503/504 while the store restarts
		return NewTransientError(err)
	case statusCode == http.StatusNotFound:
		// Dataset not created yet
		return NewTransientError(err)
	default:
		// 400 (parse error), 401/403 (auth) and unknown codes
		return NewFatalError(err)
	}
}
