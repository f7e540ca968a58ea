package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass classifies a failed request outcome for retry decisions.
type ErrorClass string

const (
	// ErrorClassAuth represents 401/403 responses. Credentials are not
	// self-healing, so these are fatal and never retried.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassRateLimit represents 429 responses. Retried without an
	// attempt bound; the workload depends on eventually succeeding.
	ErrorClassRateLimit ErrorClass = "rate_limited"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server_error"

	// ErrorClassNetwork represents transport failures and timeouts.
	ErrorClassNetwork ErrorClass = "network_error"

	// ErrorClassClient represents remaining 4xx errors, which usually
	// indicate a non-recoverable request shape.
	ErrorClassClient ErrorClass = "client_error"
)

// Common errors returned by the executor.
var (
	// ErrRetryExhausted is returned when a class's retry budget is spent.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during
	// a retry wait or rate limit acquisition.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError is a classified upstream failure.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Endpoint   string
	Message    string

	// RetryAfter is the server-requested wait from a Retry-After header,
	// in seconds. Zero when absent.
	RetryAfter int

	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d) on %s: %s: %v",
			e.Class, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d) on %s: %s",
		e.Class, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify maps a response or transport error to its ErrorClass.
func Classify(statusCode int, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ErrorClassAuth
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 500:
		return ErrorClassServer
	case statusCode >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// ClassOf extracts the ErrorClass from an error chain. Transport errors
// that never produced an APIError classify as network.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ""
	}
	return ErrorClassNetwork
}

// shouldRetry determines whether a class is ever retried.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork, ErrorClassClient:
		return true
	default:
		// Auth failures and unclassified errors surface immediately.
		return false
	}
}

// IsFatal reports whether the error terminates the whole run rather than a
// single request.
func IsFatal(err error) bool {
	return ClassOf(err) == ErrorClassAuth
}
