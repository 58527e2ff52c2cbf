package jobs

import (
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/task"
)

// TaskFailure is one FAILED task run.
type TaskFailure struct {
	Task    string `json:"task"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

// TaskSkip is one SKIPPED task run.
type TaskSkip struct {
	Task   string `json:"task"`
	Reason string `json:"reason"`
}

// Summary describes a job at any point of its life.
type Summary struct {
	JobID     string              `json:"job_id"`
	Status    task.JobStatus      `json:"status"`
	Message   string              `json:"message,omitempty"`
	Params    task.Params         `json:"params"`
	Version   int64               `json:"version"`
	Failed    []TaskFailure       `json:"failed"`
	Skipped   []TaskSkip          `json:"skipped"`
	Runs      map[string]task.Run `json:"runs"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Result is the final state of a finished job.
type Result struct {
	Summary
	Sections    map[string]section.Data `json:"sections"`
	Synthesized section.Data            `json:"synthesized,omitempty"`
}

// summarize builds a summary from a record and the task runs folded from
// its progress log. Failed and skipped lists follow names.
func summarize(rec state.Record, runs map[string]task.Run, names []string) Summary {
	s := Summary{
		JobID:     rec.JobID,
		Status:    rec.Status,
		Message:   rec.Error,
		Params:    rec.Params,
		Version:   rec.Version,
		Failed:    []TaskFailure{},
		Skipped:   []TaskSkip{},
		Runs:      make(map[string]task.Run, len(names)),
		UpdatedAt: rec.UpdatedAt,
	}
	for _, name := range names {
		r, ok := runs[name]
		if !ok {
			r = task.Run{Task: name, Status: task.StatusPending}
		}
		s.Runs[name] = r
		switch r.Status {
		case task.StatusFailed:
			s.Failed = append(s.Failed, TaskFailure{Task: name, Attempt: r.Attempt, Error: r.Error})
		case task.StatusSkipped:
			s.Skipped = append(s.Skipped, TaskSkip{Task: name, Reason: r.Reason})
		}
	}
	return s
}
