package engine

import (
	"errors"
	"fmt"
)

// RuntimeError is an attempt failure detected by the engine itself rather
// than reported by an agent.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// JobID and Task identify the affected run.
	JobID string
	Task  string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeTimeout indicates an attempt exceeded its deadline.
	ErrCodeTimeout RuntimeErrorCode = "ATTEMPT_TIMEOUT"

	// ErrCodePanic indicates the agent panicked.
	ErrCodePanic RuntimeErrorCode = "AGENT_PANIC"

	// ErrCodeOwnership indicates a result targeted a section the task does
	// not own.
	ErrCodeOwnership RuntimeErrorCode = "OWNERSHIP_VIOLATION"

	// ErrCodeCancelled indicates the job was cancelled.
	ErrCodeCancelled RuntimeErrorCode = "CANCELLED"

	// ErrCodeInterrupted indicates an attempt was cut short by a restart.
	ErrCodeInterrupted RuntimeErrorCode = "ATTEMPT_INTERRUPTED"

	// ErrCodeUnschedulable indicates a task could never become ready.
	ErrCodeUnschedulable RuntimeErrorCode = "UNSCHEDULABLE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("%s: %s (task=%s)", e.Code, e.Message, e.Task)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func codeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsTimeout reports whether err is an attempt timeout.
func IsTimeout(err error) bool { return codeOf(err) == ErrCodeTimeout }

// IsOwnershipError reports whether err is an ownership violation.
func IsOwnershipError(err error) bool { return codeOf(err) == ErrCodeOwnership }

// IsCancelled reports whether err records a job cancellation.
func IsCancelled(err error) bool { return codeOf(err) == ErrCodeCancelled }

func newTimeoutError(jobID, name string, attempt int, limit fmt.Stringer) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("attempt %d timed out after %s", attempt, limit),
		JobID:   jobID,
		Task:    name,
		Details: map[string]string{"timeout": limit.String()},
	}
}

func newPanicError(jobID, name string, recovered any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePanic,
		Message: fmt.Sprintf("agent panicked: %v", recovered),
		JobID:   jobID,
		Task:    name,
	}
}

func newOwnershipError(jobID, name, target string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeOwnership,
		Message: fmt.Sprintf("cannot write section %q: %v", target, cause),
		JobID:   jobID,
		Task:    name,
		Details: map[string]string{"section": target},
	}
}

func newCancelledError(jobID string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeCancelled, Message: "job cancelled", JobID: jobID}
}

func newInterruptedError(jobID, name string, attempt int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInterrupted,
		Message: fmt.Sprintf("attempt %d interrupted by restart", attempt),
		JobID:   jobID,
		Task:    name,
	}
}
