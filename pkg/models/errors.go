package models

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Services return these (possibly wrapped); the API
// layer maps them to HTTP statuses and generic user-facing messages.
var (
	// ErrNotFound means the referenced token or scenario does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the requester does not own the referenced resource.
	// Presented to callers identically to ErrNotFound so that a valid token
	// belonging to another user is indistinguishable from an unknown one.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition means a scenario transition was attempted from a
	// state that does not permit it, including re-authorizing a terminal
	// scenario.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError reports a bad input shape or range, such as a date policy
// violation or a non-positive price ceiling.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
