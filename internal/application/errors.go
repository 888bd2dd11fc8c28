package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no valid identity backs a mutation.
	ErrUnauthenticated = errors.New("application: unauthenticated")
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAmbiguousMatch is returned when a check-in code matches more than one booking.
	ErrAmbiguousMatch = errors.New("application: ambiguous match")
	// ErrInvalidTransition is returned when a booking is not in the state an operation requires.
	ErrInvalidTransition = errors.New("application: invalid transition")
	// ErrBookingFailed is returned when the primary booking write fails. Callers may resubmit.
	ErrBookingFailed = errors.New("application: booking failed")
	// ErrAuditWriteFailed labels audit entries that could not be persisted. It is never
	// returned to the caller of a booking operation.
	ErrAuditWriteFailed = errors.New("application: audit write failed")
	// ErrAuditQueueFull is recorded when the audit writer cannot accept more entries.
	ErrAuditQueueFull = errors.New("application: audit queue full")
	// ErrAuditLogClosed is recorded when entries arrive after the audit log stopped.
	ErrAuditLogClosed = errors.New("application: audit log closed")
	// ErrAuditChainBroken is returned by trail verification when a digest does not link.
	ErrAuditChainBroken = errors.New("application: audit chain broken")
)

// AmbiguousMatchError carries the bookings that share a submitted code so the
// operator can fall back to manual search.
type AmbiguousMatchError struct {
	Code       string
	Candidates []Booking
}

// Error implements the error interface.
func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%v: code %s matches %d bookings", ErrAmbiguousMatch, e.Code, len(e.Candidates))
}

// Unwrap exposes ErrAmbiguousMatch to errors.Is.
func (e *AmbiguousMatchError) Unwrap() error {
	return ErrAmbiguousMatch
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}
