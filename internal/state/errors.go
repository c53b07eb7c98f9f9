package state

import (
	"errors"
	"fmt"
)

// Domain errors for the state package.
var (
	// ErrOutOfRange is returned when an id or value falls outside its domain.
	ErrOutOfRange = errors.New("state: out of range")

	// ErrUnknownAction is returned when an Action kind maps to no operation.
	ErrUnknownAction = errors.New("state: unknown action")

	// ErrInvalidAction is returned when an Action's value has the wrong type.
	ErrInvalidAction = errors.New("state: invalid action value")
)

// RangeError names the constraint a rejected id or value violated.
type RangeError struct {
	Field string // e.g. "toggle id", "slider value"
	Value any
	Min   any
	Max   any
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: %s %v not in [%v, %v]", ErrOutOfRange, e.Field, e.Value, e.Min, e.Max)
}

// Unwrap lets errors.Is(err, ErrOutOfRange) match.
func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}

// checkIndex validates a zero-based index into a sequence of length n.
func checkIndex(field string, id, n int) error {
	if id < 0 || id >= n {
		return &RangeError{Field: field, Value: id, Min: 0, Max: n - 1}
	}
	return nil
}
