package schedule

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes schedule errors.
type ErrorCode string

const (
	// ErrCodeGap indicates an epoch that no phase covers.
	ErrCodeGap ErrorCode = "SCHEDULE_GAP"

	// ErrCodeOverlap indicates an epoch covered by two phases.
	ErrCodeOverlap ErrorCode = "SCHEDULE_OVERLAP"

	// ErrCodeInvalidRange indicates a phase with StartEpoch >= EndEpoch or a negative start.
	ErrCodeInvalidRange ErrorCode = "SCHEDULE_INVALID_RANGE"

	// ErrCodeEmpty indicates a schedule without phases.
	ErrCodeEmpty ErrorCode = "SCHEDULE_EMPTY"

	// ErrCodeInvalidField indicates a phase field outside its domain (e.g. batch size 0).
	ErrCodeInvalidField ErrorCode = "SCHEDULE_INVALID_FIELD"
)

// Error is returned by New, Load and Lookup.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Epoch is the offending epoch for gap/overlap errors, -1 otherwise.
	Epoch int

	// Phase names the offending phase, if any.
	Phase string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s: %s (phase=%s)", e.Code, e.Message, e.Phase)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsGapError reports whether err is a schedule gap error.
func IsGapError(err error) bool {
	return hasCode(err, ErrCodeGap)
}

// IsOverlapError reports whether err is a schedule overlap error.
func IsOverlapError(err error) bool {
	return hasCode(err, ErrCodeOverlap)
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func newGapError(epoch int) *Error {
	return &Error{
		Code:    ErrCodeGap,
		Message: fmt.Sprintf("no phase covers epoch %d", epoch),
		Epoch:   epoch,
	}
}

func newOverlapError(epoch int, a, b string) *Error {
	return &Error{
		Code:    ErrCodeOverlap,
		Message: fmt.Sprintf("epoch %d is covered by phases %q and %q", epoch, a, b),
		Epoch:   epoch,
		Phase:   b,
	}
}
