package task

// Status is the lifecycle state of a single task within a job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
)

// IsTerminal reports whether s is COMPLETED, FAILED or SKIPPED.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Valid reports whether s is a known task status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// CanTransition reports whether a task may move from s to next.
//
// PENDING may go to RUNNING or straight to SKIPPED (blocked, cancelled, not
// applicable). RUNNING may start another attempt or end in any terminal
// state. Terminal states are final.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusSkipped
	case StatusRunning:
		return next == StatusRunning || next.IsTerminal()
	}
	return false
}

// JobStatus is the overall state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobPartial   JobStatus = "PARTIAL"
)

// IsTerminal reports whether the job has finished.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobPartial:
		return true
	}
	return false
}
