package recorder

import (
	"errors"
	"fmt"
)

// Configuration and lifecycle errors
var (
	ErrInvalidHorizon      = errors.New("quality horizon must be positive")
	ErrInvalidWindow       = errors.New("smoothing window must be at least 2")
	ErrInvalidEarthRadius  = errors.New("earth radius must be positive")
	ErrInvalidGPSLostAfter = errors.New("gps lost window must be positive")
	ErrNoSource            = errors.New("recorder needs a geo source")
	ErrIllegalState        = errors.New("illegal recorder state")
	ErrClosed              = errors.New("recorder closed")
)

// StateError reports an operation attempted from a state that does not
// allow it. It matches ErrIllegalState.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v while %s", e.Op, ErrIllegalState, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrIllegalState
}

// ErrorKind returns the failure code.
func (e *StateError) ErrorKind() string {
	return "ILLEGAL_STATE"
}
