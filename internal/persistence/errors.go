package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConstraintViolation is returned when a row fails a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrStatusConflict is returned when a conditional status update finds the
	// row in a different state than the caller expected.
	ErrStatusConflict = errors.New("persistence: status conflict")
)
