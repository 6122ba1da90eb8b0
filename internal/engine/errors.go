package engine

import (
	"errors"
	"fmt"
	"strings"
)

// RuntimeError represents an error detected while executing a Program.
//
// Runtime errors include:
//   - Unreachable instructions: some instruction never became ready
//   - Future count mismatch: a replayed step spawned a different number of futures
//   - Unknown future: a replayed step waits on a future that was never issued
//   - Schedule mismatch: a replayed schedule does not fit the Program
//   - Steps exceeded: a run took more scheduling steps than allowed
//
// The replay errors are recovered by the engine and only reach callers
// through logs.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	// Instructions lists the instructions concerned, in program order.
	Instructions []string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnreachable indicates instructions whose inputs never appeared.
	ErrCodeUnreachable RuntimeErrorCode = "UNREACHABLE_INSTRUCTIONS"

	// ErrCodeFutureCountMismatch indicates a replayed step returned a
	// different number of futures than recorded.
	ErrCodeFutureCountMismatch RuntimeErrorCode = "FUTURE_COUNT_MISMATCH"

	// ErrCodeUnknownFuture indicates a replayed step names a future id that
	// is not outstanding.
	ErrCodeUnknownFuture RuntimeErrorCode = "UNKNOWN_FUTURE"

	// ErrCodeScheduleMismatch indicates a replayed schedule that names a
	// missing or already completed instruction, or leaves work undone.
	ErrCodeScheduleMismatch RuntimeErrorCode = "SCHEDULE_MISMATCH"

	// ErrCodeStepsExceeded indicates the run exceeded max steps.
	ErrCodeStepsExceeded RuntimeErrorCode = "STEPS_EXCEEDED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Instructions) > 0 {
		msg += ": " + strings.Join(e.Instructions, "; ")
	}
	if e.RunID != "" {
		msg += fmt.Sprintf(" (run=%s)", e.RunID)
	}
	return msg
}

// IsUnreachableError returns true if the error reports unreachable
// instructions. Uses errors.As to handle wrapped errors.
func IsUnreachableError(err error) bool {
	return hasCode(err, ErrCodeUnreachable)
}

// IsQuotaError returns true if the error is a steps-exceeded error.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	return hasCode(err, ErrCodeStepsExceeded)
}

// IsReplayError returns true for the recoverable replay failures.
func IsReplayError(err error) bool {
	return hasCode(err, ErrCodeFutureCountMismatch) ||
		hasCode(err, ErrCodeUnknownFuture) ||
		hasCode(err, ErrCodeScheduleMismatch)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewUnreachableError creates a RuntimeError naming every instruction that
// never ran.
func NewUnreachableError(runID string, instructions []string) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeUnreachable,
		Message:      "not all instructions are reachable, did you forget to pass a value for an input?",
		RunID:        runID,
		Instructions: instructions,
	}
}

// NewFutureCountError creates a RuntimeError for a replayed step whose
// future count differs from the recording.
func NewFutureCountError(runID string, step, want, got int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeFutureCountMismatch,
		Message: fmt.Sprintf("static schedule got an unexpected number of futures at step %d (%d != %d)", step, got, want),
		RunID:   runID,
		Details: map[string]string{
			"step": fmt.Sprintf("%d", step),
			"want": fmt.Sprintf("%d", want),
			"got":  fmt.Sprintf("%d", got),
		},
	}
}

// NewUnknownFutureError creates a RuntimeError for a replayed step that
// waits on a future id that is not outstanding.
func NewUnknownFutureError(runID string, step, futureID int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownFuture,
		Message: fmt.Sprintf("step %d waits on future %d, which is not outstanding", step, futureID),
		RunID:   runID,
		Details: map[string]string{
			"step":      fmt.Sprintf("%d", step),
			"future_id": fmt.Sprintf("%d", futureID),
		},
	}
}

// NewScheduleMismatchError creates a RuntimeError for a schedule that
// does not fit the Program being replayed.
func NewScheduleMismatchError(runID, msg string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeScheduleMismatch,
		Message: msg,
		RunID:   runID,
	}
}
