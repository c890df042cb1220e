// internal/browser/errors.go
package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrElementNotFound is returned when a locator matches nothing before the
	// wait timeout, or the requested index is out of range.
	ErrElementNotFound = errors.New("element not found")
	// ErrValueMismatch is returned when a field still does not show the typed
	// value after every attempt.
	ErrValueMismatch = errors.New("field value mismatch")
)

// ValueMismatchError reports the value a field rendered after the last attempt.
type ValueMismatchError struct {
	Field    string
	Want     string
	Got      string
	Attempts int
}

func (e *ValueMismatchError) Error() string {
	return fmt.Sprintf("%s shows %q instead of %q after %d attempts", e.Field, e.Got, e.Want, e.Attempts)
}

func (e *ValueMismatchError) Unwrap() error {
	return ErrValueMismatch
}
