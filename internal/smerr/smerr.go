// Package smerr provides the classified error type shared by the sitemap
// engine and its front-ends.
//
// Every user-reachable failure mode carries a machine-checkable Code; the
// CLI and HTTP layers translate codes into exit statuses and response codes.
// The engine itself never formats user-facing prose beyond a short message.
package smerr

import (
	"errors"
	"fmt"
)

// Code identifies a failure mode of a sitemap operation.
type Code string

const (
	// CodeSitemapExists marks the idempotent skip: a document already exists
	// for the partition and regeneration was not forced. Not a failure.
	CodeSitemapExists Code = "sitemap_exists"

	// CodeNoContent marks a legitimately empty partition. Any stored document
	// has been removed; absence is the correct representation.
	CodeNoContent Code = "no_content"

	// CodeNoQueries is returned by bulk operations invoked with an empty
	// query list.
	CodeNoQueries Code = "no_queries"

	// CodeStopped marks work interrupted by a cancellation request, as
	// opposed to a failure.
	CodeStopped Code = "stopped"

	// CodeInvalidDate marks malformed or out-of-range date input.
	CodeInvalidDate Code = "invalid_date"

	// CodeAlreadyRunning is returned when a generation run is requested while
	// another run is active.
	CodeAlreadyRunning Code = "already_running"

	// CodeSiteNotPublic is returned when periodic generation is requested for
	// a site marked non-public in configuration.
	CodeSiteNotPublic Code = "site_not_public"

	// CodeRescheduleFailed wraps failures to (re)install the periodic
	// generation job.
	CodeRescheduleFailed Code = "reschedule_failed"
)

// Error is a classified error. Code is stable API; Message is a short,
// human-readable summary.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// CodeOf extracts the classification from an error chain. The second return
// is false for unclassified errors.
func CodeOf(err error) (Code, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
