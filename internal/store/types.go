package store

import (
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// JobRow is one row of the jobs table.
type JobRow struct {
	ID        string
	Params    task.Params
	Status    task.JobStatus
	Version   int64
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SectionRow is one row of the sections table.
type SectionRow struct {
	Name      string
	Data      section.Data
	Version   int64
	Writer    string
	UpdatedAt time.Time
}

// Record is a job together with all of its sections, as persisted.
type Record struct {
	Job      JobRow
	Sections map[string]SectionRow
}

// EventRecord is one row of the progress log.
type EventRecord struct {
	JobID     string
	Seq       int64
	Type      string
	Agent     string
	Status    string
	Attempt   int
	Message   string
	Details   []string
	Error     string
	CreatedAt time.Time
}
