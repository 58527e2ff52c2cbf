package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// jobRun is the coordinator's view of one job. Every field is guarded by mu.
type jobRun struct {
	id     string
	params task.Params
	reg    *registry.Registry

	mu            sync.Mutex
	statuses      map[string]task.Status
	runs          map[string]*task.Run
	roots         map[string]string // skipped task → root failure
	notApplicable map[string]bool
	dispatched    map[string]bool
	cancelled     bool
}

func newJobRun(reg *registry.Registry, job Job) *jobRun {
	names := reg.AllNames()
	jr := &jobRun{
		id:            job.ID,
		params:        job.Params.Clone(),
		reg:           reg,
		statuses:      make(map[string]task.Status, len(names)),
		runs:          make(map[string]*task.Run, len(names)),
		roots:         make(map[string]string),
		notApplicable: make(map[string]bool),
		dispatched:    make(map[string]bool),
	}
	for _, name := range names {
		jr.statuses[name] = task.StatusPending
		jr.runs[name] = &task.Run{Task: name, Status: task.StatusPending}
	}
	return jr
}

// pendingView returns the statuses with dispatched-but-not-started tasks
// shown as RUNNING so they are not dispatched twice.
func (jr *jobRun) pendingView() map[string]task.Status {
	view := make(map[string]task.Status, len(jr.statuses))
	for name, st := range jr.statuses {
		if st == task.StatusPending && jr.dispatched[name] {
			st = task.StatusRunning
		}
		view[name] = st
	}
	return view
}

// tasksDone reports whether every task other than synthesis is terminal.
func (jr *jobRun) tasksDone() bool {
	for _, name := range jr.reg.Names() {
		if !jr.statuses[name].IsTerminal() {
			return false
		}
	}
	return true
}

// synthesisBlocker returns the first applicable required task (in
// declaration order) that did not complete, or "" when synthesis may run.
// A skipped task reports its root failure.
func (jr *jobRun) synthesisBlocker() string {
	for _, def := range jr.reg.Tasks() {
		if !def.Required || jr.notApplicable[def.Name] {
			continue
		}
		if jr.statuses[def.Name] == task.StatusCompleted {
			continue
		}
		if root := jr.roots[def.Name]; root != "" {
			return root
		}
		return def.Name
	}
	return ""
}

// fallbacks returns the configured fallback of every section the task
// reads that did not complete. Synthesis reads every task.
func (jr *jobRun) fallbacks(def registry.Def) map[string]section.Data {
	var inputs []string
	if def.Name == task.SynthesisName {
		inputs = jr.reg.Names()
	} else {
		for _, dep := range def.Deps {
			inputs = append(inputs, dep.Name)
		}
	}
	out := make(map[string]section.Data)
	for _, name := range inputs {
		if jr.statuses[name] == task.StatusCompleted {
			continue
		}
		d, ok := jr.reg.Get(name)
		if !ok || d.Fallback == nil {
			continue
		}
		out[name] = d.Fallback
	}
	return out
}

// jobStatus derives the final job status from the task runs.
func (jr *jobRun) jobStatus(cancelled bool) (task.JobStatus, string) {
	if cancelled {
		return task.JobFailed, "cancelled"
	}
	for _, name := range jr.reg.AllNames() {
		def, _ := jr.reg.Get(name)
		if !def.Required || jr.notApplicable[name] {
			continue
		}
		switch st := jr.statuses[name]; st {
		case task.StatusCompleted:
		case task.StatusSkipped:
			return task.JobFailed, fmt.Sprintf("required task %s skipped: %s", name, jr.runs[name].Reason)
		default:
			return task.JobFailed, fmt.Sprintf("required task %s %s", name, strings.ToLower(string(st)))
		}
	}
	var incomplete []string
	for _, name := range jr.reg.Names() {
		if jr.notApplicable[name] {
			continue
		}
		if jr.statuses[name] != task.StatusCompleted {
			incomplete = append(incomplete, name)
		}
	}
	if len(incomplete) > 0 {
		return task.JobPartial, "optional tasks did not complete: " + strings.Join(incomplete, ", ")
	}
	return task.JobCompleted, ""
}

func (jr *jobRun) outcome(status task.JobStatus, msg string) Outcome {
	out := Outcome{
		JobID:   jr.id,
		Status:  status,
		Message: msg,
		Runs:    make(map[string]task.Run, len(jr.runs)),
	}
	for _, name := range jr.reg.AllNames() {
		r := *jr.runs[name]
		out.Runs[name] = r
		switch r.Status {
		case task.StatusFailed:
			out.Failed = append(out.Failed, name)
		case task.StatusSkipped:
			out.Skipped = append(out.Skipped, name)
		}
	}
	return out
}
