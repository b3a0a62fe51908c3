package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassTransient represents network errors and 5xx responses.
	// These are retried with backoff.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassClient represents 4xx responses. Never retried: a 4xx
	// signals bad credentials or a malformed URL, not a flaky upstream.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassProtocol represents a response body that does not match
	// the expected page envelope. Never retried.
	ErrorClassProtocol ErrorClass = "protocol"
)

// APIError represents a fetch error with its classification and the URL
// that was in flight.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	URL        string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shippo %s error (status %d) for %s: %s: %v",
			e.Class, e.StatusCode, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("shippo %s error (status %d) for %s: %s",
		e.Class, e.StatusCode, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ClassOf extracts the error classification from an error chain.
// Errors that carry no classification default to transient.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorClassTransient
}

// shouldRetry determines if an error should be retried based on its
// classification. Only transient errors are retried.
func shouldRetry(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}
