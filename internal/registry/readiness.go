package registry

import "github.com/roach88/casework/internal/task"

// Readiness is the scheduling verdict for a PENDING task.
type Readiness int

const (
	// Waiting means at least one dependency has not reached a terminal state.
	Waiting Readiness = iota
	// Ready means every dependency is terminal and every hard one completed.
	Ready
	// Blocked means a hard dependency ended FAILED or SKIPPED, or a
	// dependency was skipped because of a required failure upstream.
	Blocked
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	default:
		return "waiting"
	}
}

// Evaluate decides whether a PENDING task can run given the current status
// of every task. roots maps each task skipped because of a failure upstream
// to the failed task at the root; it may be nil. When the verdict is
// Blocked, blocker names the first blocking dependency (in declaration
// order).
//
// Blocked wins over Waiting: a task whose hard dependency already failed is
// skipped right away even if other dependencies are still running.
func (r *Registry) Evaluate(name string, statuses map[string]task.Status, roots map[string]string) (verdict Readiness, blocker string) {
	d, ok := r.Get(name)
	if !ok {
		return Waiting, ""
	}
	verdict = Ready
	for _, dep := range d.Deps {
		st := statuses[dep.Name]
		if !st.IsTerminal() {
			verdict = Waiting
			continue
		}
		if r.blocks(name, dep.Name, st, roots[dep.Name] != "") {
			return Blocked, dep.Name
		}
	}
	return verdict, ""
}

// blocks reports whether dep, having ended in st, keeps name from running.
// An optional task's own failure never blocks, but a skip that traces back
// to a required failure (rooted) travels through every hard edge.
func (r *Registry) blocks(name, dep string, st task.Status, rooted bool) bool {
	switch {
	case st == task.StatusCompleted:
		return false
	case r.IsHard(name, dep):
		return true
	case st == task.StatusSkipped && rooted:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.hardEdge(name, dep)
	}
	return false
}

// ReadyTasks returns the PENDING tasks that can be dispatched now, in
// declaration order. Tasks whose status is missing count as PENDING.
func (r *Registry) ReadyTasks(statuses map[string]task.Status, roots map[string]string) []string {
	var out []string
	for _, name := range r.Names() {
		st, ok := statuses[name]
		if ok && st != task.StatusPending {
			continue
		}
		if v, _ := r.Evaluate(name, statuses, roots); v == Ready {
			out = append(out, name)
		}
	}
	return out
}
