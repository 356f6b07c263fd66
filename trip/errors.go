package trip

import (
	"errors"
	"fmt"
)

var (
	ErrClosed    = errors.New("trip is closed")
	ErrNotActive = errors.New("trip has not begun")
)

// RejectReason says why a fix or point was refused.
type RejectReason string

const (
	LowAccuracy RejectReason = "LOW_ACCURACY"
	OutOfOrder  RejectReason = "OUT_OF_ORDER"
	Malformed   RejectReason = "MALFORMED"
)

// RejectError is returned when a fix or point violates an admission rule.
type RejectError struct {
	Reason RejectReason
	Detail string
}

func reject(reason RejectReason, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("rejected fix: %s: %s", e.Reason, e.Detail)
}

// ErrorKind classifies the error for callers that only need the family.
func (e *RejectError) ErrorKind() string {
	return "REJECTED_FIX"
}

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) (RejectReason, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
