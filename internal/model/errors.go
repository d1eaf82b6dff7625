package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIndexCorrupted signals a mismatch between the device map and its
	// per-user inverse index.
	ErrIndexCorrupted = errors.New("device index corrupted")
	// ErrSecretUnavailable signals that a vote's secret is missing or has
	// been erased, so ballot ids can no longer be derived.
	ErrSecretUnavailable = errors.New("vote secret unavailable")
	// ErrUnknownTally signals an unrecognized tallying algorithm.
	ErrUnknownTally = errors.New("unknown tallying algorithm")
)

// UserError is a business-rule rejection surfaced to the caller as a
// structured error value. It never indicates a server fault.
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

// NewUserError builds a UserError from a format string.
func NewUserError(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// AsUserError unwraps err into a UserError if it is one.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
