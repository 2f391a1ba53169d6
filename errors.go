package cleaner

import "fmt"

// The ValidationError error type is returned by Add when an argument does not
// carry any of the supported disposal capabilities, or when adding it would
// violate the ownership rules for nested cleaners.
//
// Validation happens before anything is stored, so an Add that returns a
// ValidationError has changed nothing.
type ValidationError struct {
	// Index of the offending argument, counted after flattening.
	Index int
	// Item is the offending argument.
	Item interface{}
	// Reason is a human readable description of the violation.
	Reason string
}

// Error returns the error message and adheres to the Error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("cleaner: cannot add item %d (%T): %s", e.Index, e.Item, e.Reason)
}

// IsValidationError casts error to ValidationError.
//
// This is mostly because it's hard to remember that error isn't supposed to
// be cast to *ValidationError.
func IsValidationError(err error) (e ValidationError, ok bool) {
	e, ok = err.(ValidationError)
	return
}
