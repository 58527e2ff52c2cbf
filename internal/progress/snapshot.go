package progress

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/roach88/casework/internal/task"
)

// Snapshot is the pull view of a job's progress.
type Snapshot struct {
	JobID         string                 `json:"job_id"`
	CurrentAgent  string                 `json:"current_agent"`
	AgentStatus   map[string]task.Status `json:"agent_status"`
	Attempts      map[string]int         `json:"attempts"`
	Reasons       map[string]string      `json:"reasons,omitempty"`
	OverallStatus task.JobStatus         `json:"overall_status"`
	Message       string                 `json:"message,omitempty"`

	// Completed counts tasks that finished COMPLETED; Finished counts every
	// terminal task. Percent is Finished over Total.
	Completed int      `json:"completed"`
	Finished  int      `json:"finished"`
	Total     int      `json:"total"`
	Percent   int      `json:"percent"`
	Failed    []string `json:"failed"`
	Skipped   []string `json:"skipped"`

	LastSeq   int64     `json:"last_seq"`
	UpdatedAt time.Time `json:"updated_at"`

	// running tracks RUNNING tasks in the order they started, to pick the
	// current agent.
	running []string
}

// newSnapshot starts a job with every task PENDING.
func newSnapshot(jobID string, names []string) Snapshot {
	s := Snapshot{
		JobID:         jobID,
		AgentStatus:   make(map[string]task.Status, len(names)),
		Attempts:      make(map[string]int, len(names)),
		Reasons:       map[string]string{},
		OverallStatus: task.JobPending,
		Total:         len(names),
		Failed:        []string{},
		Skipped:       []string{},
	}
	for _, n := range names {
		s.AgentStatus[n] = task.StatusPending
	}
	return s
}

// Apply folds one event into the snapshot. Events at or below LastSeq are
// ignored, so folding the same log twice is harmless.
func (s *Snapshot) Apply(ev Event) {
	if ev.Seq <= s.LastSeq {
		return
	}
	s.LastSeq = ev.Seq
	s.UpdatedAt = ev.Timestamp
	if s.AgentStatus == nil {
		s.AgentStatus = map[string]task.Status{}
	}
	if s.Attempts == nil {
		s.Attempts = map[string]int{}
	}
	if s.Reasons == nil {
		s.Reasons = map[string]string{}
	}

	switch ev.Type {
	case EventJobStatus:
		s.OverallStatus = task.JobStatus(ev.Status)
		s.Message = ev.Message
	case EventTaskStatus, EventTaskRetry:
		st := task.Status(ev.Status)
		s.AgentStatus[ev.AgentName] = st
		if ev.Attempt > s.Attempts[ev.AgentName] {
			s.Attempts[ev.AgentName] = ev.Attempt
		}
		s.running = slices.DeleteFunc(s.running, func(n string) bool { return n == ev.AgentName })
		delete(s.Reasons, ev.AgentName)
		switch st {
		case task.StatusRunning:
			s.running = append(s.running, ev.AgentName)
		case task.StatusFailed:
			s.Reasons[ev.AgentName] = firstNonEmpty(ev.Error, ev.Message)
		case task.StatusSkipped:
			s.Reasons[ev.AgentName] = ev.Message
		}
		if ev.Type == EventTaskRetry && ev.Error != "" {
			s.Reasons[ev.AgentName] = ev.Error
		}
	}
	s.recount()
}

func (s *Snapshot) recount() {
	s.Completed, s.Finished = 0, 0
	s.Failed, s.Skipped = s.Failed[:0], s.Skipped[:0]
	for name, st := range s.AgentStatus {
		switch st {
		case task.StatusCompleted:
			s.Completed++
		case task.StatusFailed:
			s.Failed = append(s.Failed, name)
		case task.StatusSkipped:
			s.Skipped = append(s.Skipped, name)
		}
		if st.IsTerminal() {
			s.Finished++
		}
	}
	slices.Sort(s.Failed)
	slices.Sort(s.Skipped)
	if s.Total > 0 {
		s.Percent = int(math.Round(float64(s.Finished) * 100 / float64(s.Total)))
	}
	s.CurrentAgent = ""
	if n := len(s.running); n > 0 {
		s.CurrentAgent = s.running[n-1]
	}
}

// clone deep-copies s for handing out.
func (s Snapshot) clone() Snapshot {
	out := s
	out.AgentStatus = maps.Clone(s.AgentStatus)
	out.Attempts = maps.Clone(s.Attempts)
	out.Reasons = maps.Clone(s.Reasons)
	out.Failed = slices.Clone(s.Failed)
	out.Skipped = slices.Clone(s.Skipped)
	out.running = slices.Clone(s.running)
	return out
}

// Fold replays events onto a fresh snapshot for the given task names.
func Fold(jobID string, names []string, events []Event) Snapshot {
	s := newSnapshot(jobID, names)
	for _, ev := range events {
		s.Apply(ev)
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
