// Package billingerr defines the error categories shared by the billing packages.
//
// Every package-level sentinel error wraps exactly one category, so callers
// can branch on the category without knowing the concrete error:
//
//	if errors.Is(err, billingerr.ErrStateConflict) {
//	    // already subscribed, already refunded, already canceled...
//	}
package billingerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before any money movement.
	ErrValidation = errors.New("validation failed")
	// ErrGatewayFailure marks a declined, timed out or malformed gateway call.
	ErrGatewayFailure = errors.New("payment gateway failure")
	// ErrStateConflict marks an operation that conflicts with the current record state.
	ErrStateConflict = errors.New("state conflict")
	// ErrConfiguration marks missing prerequisites, such as no payment method on file.
	ErrConfiguration = errors.New("configuration failure")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
)

// New returns a sentinel error with the given message that matches category via errors.Is.
func New(category error, msg string) error {
	return fmt.Errorf("%w: %s", category, msg)
}

// Category returns the category err belongs to, or nil if it carries none.
func Category(err error) error {
	for _, c := range []error{ErrValidation, ErrNotFound, ErrStateConflict, ErrConfiguration, ErrGatewayFailure} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
