package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a profile name does not exist.
	ErrNotFound = errors.New("profile not found")

	// ErrChallengeLocked is returned when activating a profile would silently
	// deactivate a profile that has a wait-time challenge enabled.
	ErrChallengeLocked = errors.New("cannot enable profile while another profile with challenge is active")

	// ErrNoTabHost is returned when no browser context is connected to serve tab queries.
	ErrNoTabHost = errors.New("no tab host connected")
)

// NotFound wraps ErrNotFound with the missing profile name.
func NotFound(name string) error {
	return fmt.Errorf("%w: could not find profile with name %q", ErrNotFound, name)
}

// ValidationError is returned for malformed input, before any state is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MatchError reports a site pattern that could not be evaluated.
type MatchError struct {
	Pattern string
	Err     error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("site pattern %q: %v", e.Pattern, e.Err)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}
