package transport

import (
	"errors"
	"fmt"
)

// Common errors returned by transports.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while a
	// request is waiting (rate limiter or retry backoff).
	ErrContextCancelled = errors.New("context cancelled")
)

// FailureClass classifies a request failure for retry decisions and observability.
type FailureClass string

const (
	// FailureTransient covers network-level failures (connection refused,
	// timeout, DNS) and 5xx responses. Expected to be retry-recoverable.
	FailureTransient FailureClass = "transient"

	// FailureRateLimit covers HTTP 429 responses. Retryable, the destination
	// asked for a slowdown.
	FailureRateLimit FailureClass = "rate_limit"

	// FailureClient covers 4xx responses other than 429. Retrying will not
	// change the answer.
	FailureClient FailureClass = "client"
)

// RequestError is the typed failure produced by a Transport.
type RequestError struct {
	// Status is the HTTP status code, zero when no response was received.
	Status int

	// Class is the failure classification.
	Class FailureClass

	// Attempts is the number of attempts consumed, including the first.
	// Set to the cumulative count by the retry layer.
	Attempts int

	// Message is a short human-readable description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Status == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s failure: %s: %v", e.Class, e.Message, e.Err)
		}
		return fmt.Sprintf("%s failure: %s", e.Class, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failure (status %d): %s: %v", e.Class, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failure (status %d): %s", e.Class, e.Status, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a failure class should be retried.
func Retryable(class FailureClass) bool {
	switch class {
	case FailureTransient:
		// network blips and 5xx are expected to recover
		return true
	case FailureRateLimit:
		// 429 asks for backoff, not abandonment
		return true
	case FailureClient:
		// 4xx will fail identically on retry
		return false
	default:
		return false
	}
}

// ClassOf extracts the failure class from an error returned by a Transport.
// Returns the empty class for errors that carry no classification.
func ClassOf(err error) FailureClass {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Class
	}
	return ""
}
