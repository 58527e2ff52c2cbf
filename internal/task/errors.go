package task

import (
	"errors"
	"fmt"
	"strings"
)

// TransientError marks a failure worth retrying: a timeout, a flaky
// upstream, a rate limit.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying will not fix. Exhausted
// transient failures are converted into one, keeping the last cause.
type PermanentError struct {
	Err error

	// Attempts is set when the error was produced by exhausting retries.
	Attempts int
}

func (e *PermanentError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DependencyBlockedError is the cause recorded for a task skipped because an
// upstream hard dependency failed or was itself skipped. BlockedBy names the
// task that originally failed, not the nearest skipped neighbour.
type DependencyBlockedError struct {
	Task      string
	BlockedBy string
	Via       []string
}

func (e *DependencyBlockedError) Error() string {
	if len(e.Via) > 0 {
		return fmt.Sprintf("%s blocked by %s (via %s)", e.Task, e.BlockedBy, strings.Join(e.Via, " -> "))
	}
	return fmt.Sprintf("%s blocked by %s", e.Task, e.BlockedBy)
}

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient returns true if err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent returns true if err is, or wraps, a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsDependencyBlocked returns true if err is a DependencyBlockedError.
func IsDependencyBlocked(err error) bool {
	var de *DependencyBlockedError
	return errors.As(err, &de)
}
