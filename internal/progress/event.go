package progress

import (
	"time"

	"github.com/roach88/casework/internal/store"
	"github.com/roach88/casework/internal/task"
)

// EventType distinguishes job-level from task-level events.
type EventType string

const (
	EventJobStatus  EventType = "job_status"
	EventTaskStatus EventType = "task_status"

	// EventTaskRetry records a failed attempt that will be retried. The task
	// stays RUNNING.
	EventTaskRetry EventType = "task_retry"

	// EventSnapshot is never logged; stream endpoints send it first so a
	// client can start from a full picture.
	EventSnapshot EventType = "snapshot"
)

// Event is one immutable progress notification.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	Seq       int64     `json:"seq"`
	AgentName string    `json:"agent_name"`
	Status    string    `json:"status"`
	Attempt   int       `json:"attempt,omitempty"`
	Message   string    `json:"message"`
	Details   []string  `json:"details"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends the job.
func (e Event) Terminal() bool {
	return e.Type == EventJobStatus && task.JobStatus(e.Status).IsTerminal()
}

// Transition is a status change submitted to the Broadcaster, which stamps
// it with a seq and timestamp.
type Transition struct {
	Type    EventType
	Agent   string
	Status  string
	Attempt int
	Message string
	Details []string
	Err     error
}

// JobTransition builds a job-level transition.
func JobTransition(status task.JobStatus, message string) Transition {
	return Transition{Type: EventJobStatus, Status: string(status), Message: message}
}

// TaskTransition builds a task-level transition.
func TaskTransition(agent string, status task.Status, attempt int, message string) Transition {
	return Transition{Type: EventTaskStatus, Agent: agent, Status: string(status), Attempt: attempt, Message: message}
}

// RetryTransition records that attempt failed with err and another attempt
// follows.
func RetryTransition(agent string, attempt int, err error) Transition {
	return Transition{
		Type:    EventTaskRetry,
		Agent:   agent,
		Status:  string(task.StatusRunning),
		Attempt: attempt,
		Message: "attempt failed, retrying",
		Err:     err,
	}
}

func toRecord(ev Event) store.EventRecord {
	return store.EventRecord{
		JobID:     ev.JobID,
		Seq:       ev.Seq,
		Type:      string(ev.Type),
		Agent:     ev.AgentName,
		Status:    ev.Status,
		Attempt:   ev.Attempt,
		Message:   ev.Message,
		Details:   ev.Details,
		Error:     ev.Error,
		CreatedAt: ev.Timestamp,
	}
}

func fromRecord(r store.EventRecord) Event {
	details := r.Details
	if details == nil {
		details = []string{}
	}
	return Event{
		Type:      EventType(r.Type),
		JobID:     r.JobID,
		Seq:       r.Seq,
		AgentName: r.Agent,
		Status:    r.Status,
		Attempt:   r.Attempt,
		Message:   r.Message,
		Details:   details,
		Error:     r.Error,
		Timestamp: r.CreatedAt,
	}
}
