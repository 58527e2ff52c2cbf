package jobs

import "errors"

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrNotFinished is returned when a final result is requested for a job
	// that has not reached a terminal status.
	ErrNotFinished = errors.New("job not finished")

	// ErrFinished is returned when cancelling a job that already ended.
	ErrFinished = errors.New("job already finished")

	// ErrNotRunning is returned when cancelling a job that this process is
	// not executing.
	ErrNotRunning = errors.New("job is not running in this process")

	// ErrShuttingDown is returned by Start after Shutdown began.
	ErrShuttingDown = errors.New("manager is shutting down")
)
