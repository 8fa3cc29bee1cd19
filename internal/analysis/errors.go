package analysis

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrDegenerateInput  = errors.New("degenerate input")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// InsufficientDataError reports too few beats or samples for a computation.
// Callers recover from it by omitting the affected result.
type InsufficientDataError struct {
	What string
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d, need %d", e.What, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// DegenerateInputError reports a zero denominator, an empty landmark slice or
// inverted landmarks. Callers recover from it with a zero value and a note.
type DegenerateInputError struct {
	What string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate input: %s", e.What)
}

func (e *DegenerateInputError) Is(target error) bool { return target == ErrDegenerateInput }

// ArgumentError is a caller contract violation, e.g. an unknown phase.
type ArgumentError struct {
	Arg   string
	Value string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Arg, e.Value)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }
