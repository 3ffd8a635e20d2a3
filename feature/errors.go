package feature

import (
	"fmt"
	"strings"
)

// MissingError reports required feature fields absent from a record.
// Missing holds the canonical field names, sorted.
type MissingError struct {
	Missing []string
}

// Error implements the error interface.
func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required feature fields: %s", strings.Join(e.Missing, ", "))
}

// TypeError reports a record value that cannot be coerced to a finite
// float64. Field is the canonical field name; Value is the offending value
// as it appeared in the record.
type TypeError struct {
	Field string
	Value any
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("feature %s: value %v (%T) is not a finite number", e.Field, e.Value, e.Value)
}
