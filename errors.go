package connector

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError reports a missing or malformed configuration field.
// It is returned before any network I/O and is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// AuthenticationError reports missing or rejected credentials, either from
// local validation or from a 401/403 response. The HTTP layer never retries
// it; callers may re-authenticate and retry manually.
type AuthenticationError struct {
	Reason     string
	StatusCode int
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ConnectionError reports a transport-level failure. Retryable is false once
// the retry budget is exhausted.
type ConnectionError struct {
	Retryable bool
	Attempts  int
	Cause     error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("connection failed: %v", e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// RateLimitError reports an HTTP 429 response, or a local rate-limit wait
// that exceeded the configured maximum delay. RetryAfter is zero when the
// server supplied no Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
	StatusCode int
	Reason     string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %v)", e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: %s", e.Reason)
}

// ResourceNotFoundError reports an HTTP 404 response. Never retried.
type ResourceNotFoundError struct {
	Path string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.Path)
}

// ValidationError reports an HTTP 422 response or a local precondition
// failure. Never retried.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %v", e.Errors)
}

// APIError is the catch-all for 4xx/5xx responses not covered by a more
// specific error kind. Retriable reflects membership of the configured
// retry-code set.
type APIError struct {
	StatusCode int
	Retriable  bool
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether err is an error kind the HTTP layer retries:
// a retryable ConnectionError, any RateLimitError, or an APIError whose
// status code is in the retry-code set.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retriable
	}
	return false
}

// IsRateLimitError reports whether err is a RateLimitError.
func IsRateLimitError(err error) bool {
	var rateErr *RateLimitError
	return errors.As(err, &rateErr)
}

// GetRateLimitError extracts a RateLimitError from err if present.
func GetRateLimitError(err error) *RateLimitError {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr
	}
	return nil
}
