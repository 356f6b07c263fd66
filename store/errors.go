package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no trip has the requested id.
	ErrNotFound = errors.New("trip not found")
	// ErrDuplicateID is returned when adding a trip whose id is taken.
	ErrDuplicateID = errors.New("duplicate trip id")
	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("store closed")
	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Kind classifies store failures.
type Kind string

const (
	ReadFailed  Kind = "STORE_READ_FAILED"
	WriteFailed Kind = "STORE_WRITE_FAILED"
	Corrupt     Kind = "STORE_CORRUPT"
)

// Error is an I/O or encoding failure inside a backing.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind returns the failure code.
func (e *Error) ErrorKind() string {
	return string(e.Kind)
}

func readFailed(err error) error {
	return &Error{Kind: ReadFailed, Err: err}
}

func writeFailed(err error) error {
	return &Error{Kind: WriteFailed, Err: err}
}

func corrupt(err error) error {
	return &Error{Kind: Corrupt, Err: err}
}

// KindOf returns the kind of a store failure in err's chain.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
