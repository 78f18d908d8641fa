package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a document, package, or version is not found.
var ErrNotFound = errors.New("not found")

// ErrRetryable marks transient transport failures (5xx, rate limits,
// connection resets) that are safe to retry.
var ErrRetryable = errors.New("retryable transport error")

// ErrContentInvalid is returned when a fetched document fails schema
// expectations: unparseable JSON, malformed XML, or a corrupt archive.
var ErrContentInvalid = errors.New("content invalid")

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error represents a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == 404
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode == 404 {
		return ErrNotFound
	}
	return ErrRetryable
}

// NotFoundError wraps ErrNotFound with package context.
type NotFoundError struct {
	Name    string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("package %s version %s not found", e.Name, e.Version)
	}
	return fmt.Sprintf("package %s not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConfigurationError is returned when the feed root is not a service
// index, or when it lacks a required service type.
type ConfigurationError struct {
	Reason        string
	AcceptedTypes []string
}

func (e *ConfigurationError) Error() string {
	if len(e.AcceptedTypes) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (accepted types: %s)", e.Reason, strings.Join(e.AcceptedTypes, ", "))
}

// ContentError wraps ErrContentInvalid with the offending URL.
type ContentError struct {
	URL    string
	Reason string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("invalid content from %s: %s", e.URL, e.Reason)
}

func (e *ContentError) Unwrap() error {
	return ErrContentInvalid
}
