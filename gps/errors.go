package gps

import (
	"errors"
	"fmt"
)

// Common errors returned by location sources
var (
	ErrAlreadySubscribed     = errors.New("source already has an active subscriber")
	ErrInvalidRadius         = errors.New("radius must be positive")
	ErrInvalidJitter         = errors.New("jitter must be between 0.0 and 1.0")
	ErrInvalidAltitudeJitter = errors.New("altitude jitter must be between 0.0 and 1.0")
	ErrInvalidSpeed          = errors.New("speed must be non-negative")
	ErrInvalidCourse         = errors.New("course must be between 0.0 and 359.9 degrees")
	ErrInvalidAccuracy       = errors.New("accuracy must be non-negative")
	ErrInvalidOutputRate     = errors.New("output rate must be positive")
	ErrInvalidReplaySpeed    = errors.New("replay speed must be positive")
	ErrInvalidSentence       = errors.New("invalid NMEA sentence")
	ErrChecksumMismatch      = errors.New("NMEA checksum mismatch")
)

// ErrorCode classifies why a source could not deliver fixes.
type ErrorCode string

const (
	PermissionDenied    ErrorCode = "PERMISSION_DENIED"
	PositionUnavailable ErrorCode = "POSITION_UNAVAILABLE"
	Timeout             ErrorCode = "TIMEOUT"
	Unsupported         ErrorCode = "UNSUPPORTED"
	Unknown             ErrorCode = "UNKNOWN"
)

// SourceError is reported through the onError callback, or returned from
// Subscribe when the source cannot be opened at all.
type SourceError struct {
	Code ErrorCode
	Err  error
}

// NewSourceError wraps err with a classification code.
func NewSourceError(code ErrorCode, err error) *SourceError {
	return &SourceError{Code: code, Err: err}
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return "geo source: " + string(e.Code)
	}
	return fmt.Sprintf("geo source: %s: %v", e.Code, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// ErrorKind returns the classification code as a string.
func (e *SourceError) ErrorKind() string {
	return string(e.Code)
}

// Terminal reports whether the source cannot recover without user action.
func (e *SourceError) Terminal() bool {
	return e.Code == PermissionDenied || e.Code == Unsupported
}

// CodeOf extracts the classification of err, or Unknown when err is not a
// SourceError.
func CodeOf(err error) ErrorCode {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Code
	}
	return Unknown
}

// IsTerminal reports whether err is a terminal source error.
func IsTerminal(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Terminal()
}
