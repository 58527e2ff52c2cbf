package progress

import (
	"time"

	"github.com/roach88/casework/internal/task"
)

// Runs folds a job's progress log into the latest TaskRun per task. This is
// the task-run history used to resume a job without re-running completed
// tasks.
func Runs(events []Event) map[string]task.Run {
	runs := make(map[string]task.Run)
	for _, ev := range events {
		if ev.Type != EventTaskStatus && ev.Type != EventTaskRetry {
			continue
		}
		r := runs[ev.AgentName]
		r.Task = ev.AgentName
		if ev.Attempt > r.Attempt {
			r.Attempt = ev.Attempt
		}
		st := task.Status(ev.Status)
		r.Status = st
		switch {
		case ev.Type == EventTaskRetry:
			r.Error = ev.Error
		case st == task.StatusRunning:
			r.StartedAt = ev.Timestamp
			r.FinishedAt = time.Time{}
			r.Error, r.Reason = "", ""
		case st.IsTerminal():
			r.FinishedAt = ev.Timestamp
			r.Error = ev.Error
			if st == task.StatusSkipped {
				r.Reason = ev.Message
			}
		}
		runs[ev.AgentName] = r
	}
	return runs
}
