// Package errs holds the error taxonomy shared by the client packages.
package errs

import (
	"errors"
	"fmt"
)

// ErrNoDriverAvailable is a business outcome, not a fault.
var ErrNoDriverAvailable = errors.New("no driver available")

// ValidationError means the user must fix input before proceeding.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NetworkError is a transient transport or decode failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// BackendError is an {"error": "..."} reply from the ride backend.
type BackendError struct {
	Op      string
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: backend error (status %d): %s", e.Op, e.Status, e.Message)
}

// Retryable reports whether a user re-click could plausibly succeed.
func Retryable(err error) bool {
	var ne *NetworkError
	var be *BackendError
	return errors.As(err, &ne) || errors.As(err, &be)
}
