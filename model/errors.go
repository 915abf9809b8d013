package model

import (
	"fmt"
	"time"
)

// The engine error taxonomy. Transport-level errors propagate unchanged to
// the orchestrator, which alone decides presentation. Only the count
// aggregator is allowed to degrade errors into defaults, and only on its
// documented fallback paths.

// ConfigurationMissingError means the configuration document has no entry at
// all for a section. It is fatal to the view. A present-but-blank endpoint
// is not a configuration error; it selects the static source.
type ConfigurationMissingError struct {
	Section     Section
	Environment string
}

func (e *ConfigurationMissingError) Error() string {
	return fmt.Sprintf("no endpoint configuration for section %q in environment %q",
		e.Section, e.Environment)
}

// TimeoutError means a backend call exceeded its time budget and was
// cancelled. The underlying request is aborted; nothing from a late
// completion may reach engine state.
type TimeoutError struct {
	Timeout time.Duration
	URL     string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

// NetworkError means the backend could not be reached at all: DNS failure,
// refused connection, broken transport.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError means the backend answered with a non-2xx status. Message holds
// the best-effort human-readable message extracted from the error body,
// falling back to the status text.
type HTTPError struct {
	Status     int
	StatusText string
	Message    string
	URL        string
}

func (e *HTTPError) Error() string {
	if e.Message != "" && e.Message != e.StatusText {
		return fmt.Sprintf("backend returned %d %s: %s", e.Status, e.StatusText, e.Message)
	}
	return fmt.Sprintf("backend returned %d %s", e.Status, e.StatusText)
}

// TranslationError means a filter value could not be mapped to a backend
// parameter. This is a programmer or configuration error; the translator
// logs it and drops the offending filter rather than failing the view.
type TranslationError struct {
	Section Section
	Filter  string
	Reason  string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("cannot translate filter %q for section %q: %s",
		e.Filter, e.Section, e.Reason)
}

// NotFoundError means a request named a section the engine does not serve.
type NotFoundError struct {
	Section Section
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown section %q", e.Section)
}

// BreakerOpenError means the circuit breaker for a backend rejected the
// call without attempting it.
type BreakerOpenError struct {
	Section Section
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for section %q", e.Section)
}
