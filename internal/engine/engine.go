package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// DefaultWorkers is the default number of attempts executing at once
// across all jobs.
const DefaultWorkers = 4

const (
	reasonNotApplicable = "not applicable"
	reasonCancelled     = "cancelled"
)

// States is the shared state store as the engine sees it.
type States interface {
	SetSection(ctx context.Context, jobID, writer, name string, data section.Data) (int64, error)
	SetStatus(ctx context.Context, jobID string, status task.JobStatus, errMsg string) error
	View(ctx context.Context, jobID string, fallbacks map[string]section.Data) (task.View, error)
}

// Emitter receives every job and task status change.
type Emitter interface {
	Emit(ctx context.Context, jobID string, t progress.Transition) (progress.Event, error)
}

// Engine runs jobs against a validated registry.
//
// Thread-safety model:
//   - Run(): safe to call concurrently for different jobs
//   - the worker semaphore is shared by every Run
type Engine struct {
	reg      *registry.Registry
	states   States
	progress Emitter
	workers  int
	sem      *semaphore.Weighted
	backoff  Backoff
	now      func() time.Time
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the process-wide concurrency bound.
//
// Default: 4 (DefaultWorkers). Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(b Backoff) Option {
	return func(e *Engine) {
		e.backoff = b
	}
}

// WithClock sets the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTracer sets the tracer used for per-attempt spans. Defaults to the
// global otel provider, which is a no-op unless one is installed.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New creates an Engine. The registry must already be validated.
func New(reg *registry.Registry, states States, emitter Emitter, opts ...Option) (*Engine, error) {
	if reg == nil || !reg.Validated() {
		return nil, &registry.ConfigError{
			Kind:    registry.KindNotValidated,
			Message: "registry must be validated before jobs can run",
		}
	}
	e := &Engine{
		reg:      reg,
		states:   states,
		progress: emitter,
		workers:  DefaultWorkers,
		backoff:  DefaultBackoff,
		now:      time.Now,
		tracer:   otel.Tracer("github.com/roach88/casework/internal/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sem = semaphore.NewWeighted(int64(e.workers))
	return e, nil
}

// Workers returns the concurrency bound.
func (e *Engine) Workers() int { return e.workers }

// Registry returns the registry the engine schedules from.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Job is one scheduling request. The job record must already exist in the
// state store.
type Job struct {
	ID     string
	Params task.Params

	// Resume carries the task runs recorded before a restart. COMPLETED,
	// FAILED and SKIPPED runs are kept. A RUNNING run's attempt is logged as
	// interrupted and the task is dispatched again at the next attempt.
	Resume map[string]task.Run
}

// Outcome summarizes a finished job.
type Outcome struct {
	JobID   string
	Status  task.JobStatus
	Message string
	Runs    map[string]task.Run
	Failed  []string
	Skipped []string
}

// Run schedules every task of the job to a terminal state, runs synthesis,
// derives the job status and seals the record. It returns an error only
// when the job could not be started; task failures are reported through the
// Outcome.
func (e *Engine) Run(ctx context.Context, job Job) (Outcome, error) {
	jr := newJobRun(e.reg, job)
	persist := context.WithoutCancel(ctx)

	if err := e.states.SetStatus(persist, job.ID, task.JobRunning, ""); err != nil {
		return Outcome{}, fmt.Errorf("start job %s: %w", job.ID, err)
	}
	e.emit(persist, job.ID, progress.JobTransition(task.JobRunning, "job started"))
	slog.Info("job started", "job", job.ID, "tasks", e.reg.Total(), "resume", len(job.Resume) > 0)

	jr.mu.Lock()
	e.restore(persist, jr, job.Resume)
	e.skipNotApplicable(persist, jr)
	jr.mu.Unlock()

	doneCh := make(chan string, e.reg.Total())
	inFlight := 0
	cancelled := false

	for {
		if ctx.Err() != nil {
			cancelled = true
			e.cancel(persist, jr)
			break
		}

		jr.mu.Lock()
		e.propagate(persist, jr)
		for _, name := range e.reg.ReadyTasks(jr.pendingView(), jr.roots) {
			def, _ := e.reg.Get(name)
			jr.dispatched[name] = true
			inFlight++
			go e.runTask(ctx, jr, def, doneCh)
		}
		if jr.tasksDone() && jr.statuses[task.SynthesisName] == task.StatusPending && !jr.dispatched[task.SynthesisName] {
			if root := jr.synthesisBlocker(); root != "" {
				err := &task.DependencyBlockedError{Task: task.SynthesisName, BlockedBy: root}
				e.transition(persist, jr, task.SynthesisName, task.StatusSkipped, 0, "blocked by "+root, err)
			} else {
				def, _ := e.reg.Synthesis()
				jr.dispatched[task.SynthesisName] = true
				inFlight++
				go e.runTask(ctx, jr, def, doneCh)
			}
		}
		if inFlight == 0 {
			e.strandRemaining(persist, jr)
			jr.mu.Unlock()
			break
		}
		jr.mu.Unlock()

		select {
		case <-doneCh:
			inFlight--
		case <-ctx.Done():
		}
	}

	return e.finish(persist, jr, cancelled), nil
}

// restore applies runs recorded before a restart.
func (e *Engine) restore(ctx context.Context, jr *jobRun, runs map[string]task.Run) {
	for _, name := range slices.Sorted(maps.Keys(runs)) {
		run := runs[name]
		if _, ok := jr.statuses[name]; !ok {
			continue
		}
		r := jr.runs[name]
		r.Attempt = run.Attempt
		r.Reason = run.Reason
		r.Error = run.Error
		r.StartedAt = run.StartedAt
		r.FinishedAt = run.FinishedAt
		switch run.Status {
		case task.StatusCompleted, task.StatusFailed, task.StatusSkipped:
			jr.statuses[name] = run.Status
			r.Status = run.Status
			if run.Status == task.StatusSkipped && run.Reason == reasonNotApplicable {
				jr.notApplicable[name] = true
			}
			if run.Status == task.StatusSkipped && strings.HasPrefix(run.Reason, "blocked by ") {
				jr.roots[name] = strings.TrimPrefix(run.Reason, "blocked by ")
			}
		case task.StatusRunning:
			// Only the coordinator sees the task as PENDING again; the log
			// records a retry, never a step back.
			err := newInterruptedError(jr.id, name, run.Attempt)
			r.Error = err.Error()
			e.emit(ctx, jr.id, progress.RetryTransition(name, run.Attempt, err))
			slog.Info("interrupted attempt rescheduled", "job", jr.id, "task", name, "attempt", run.Attempt)
		}
	}
}

// skipNotApplicable evaluates every applicability predicate once.
func (e *Engine) skipNotApplicable(ctx context.Context, jr *jobRun) {
	for _, def := range e.reg.Tasks() {
		if jr.statuses[def.Name] != task.StatusPending {
			continue
		}
		if !def.IsApplicable(jr.params) {
			jr.notApplicable[def.Name] = true
			e.transition(ctx, jr, def.Name, task.StatusSkipped, 0, reasonNotApplicable, nil)
		}
	}
}

// propagate skips every PENDING task blocked by a failed or skipped hard
// dependency, carrying the root failure along. Skips cascade in topological
// order within one pass, through optional tasks too.
func (e *Engine) propagate(ctx context.Context, jr *jobRun) {
	for _, name := range e.reg.TopoOrder() {
		if jr.statuses[name] != task.StatusPending || jr.dispatched[name] {
			continue
		}
		verdict, dep := e.reg.Evaluate(name, jr.statuses, jr.roots)
		if verdict != registry.Blocked {
			continue
		}
		root := dep
		if r := jr.roots[dep]; r != "" {
			root = r
		}
		jr.roots[name] = root
		err := &task.DependencyBlockedError{Task: name, BlockedBy: root}
		if dep != root {
			err.Via = []string{dep}
		}
		e.transition(ctx, jr, name, task.StatusSkipped, 0, "blocked by "+root, err)
		slog.Info("task skipped", "job", jr.id, "task", name, "blocked_by", root)
	}
}

// strandRemaining skips anything still PENDING once nothing is in flight.
// With a validated acyclic registry this finds nothing.
func (e *Engine) strandRemaining(ctx context.Context, jr *jobRun) {
	for _, name := range e.reg.AllNames() {
		if jr.statuses[name] != task.StatusPending {
			continue
		}
		err := &RuntimeError{Code: ErrCodeUnschedulable, Message: "task never became ready", JobID: jr.id, Task: name}
		slog.Error("task unschedulable", "job", jr.id, "task", name)
		e.transition(ctx, jr, name, task.StatusSkipped, 0, "unschedulable", err)
	}
}

// cancel marks the job cancelled. Late worker results are discarded.
func (e *Engine) cancel(ctx context.Context, jr *jobRun) {
	jr.mu.Lock()
	defer jr.mu.Unlock()
	jr.cancelled = true
	cause := newCancelledError(jr.id)
	for _, name := range e.reg.AllNames() {
		switch jr.statuses[name] {
		case task.StatusPending:
			e.transition(ctx, jr, name, task.StatusSkipped, 0, reasonCancelled, nil)
		case task.StatusRunning:
			e.transition(ctx, jr, name, task.StatusFailed, jr.runs[name].Attempt, reasonCancelled, cause)
		}
	}
	slog.Warn("job cancelled", "job", jr.id)
}

// finish derives the job status, seals the record and emits the terminal
// job event.
func (e *Engine) finish(ctx context.Context, jr *jobRun, cancelled bool) Outcome {
	jr.mu.Lock()
	status, msg := jr.jobStatus(cancelled)
	out := jr.outcome(status, msg)
	jr.mu.Unlock()

	if err := e.states.SetStatus(ctx, jr.id, status, msg); err != nil {
		slog.Error("seal job record", "job", jr.id, "status", status, "error", err)
	}
	e.emit(ctx, jr.id, progress.JobTransition(status, msg))
	slog.Info("job finished", "job", jr.id, "status", status,
		"failed", len(out.Failed), "skipped", len(out.Skipped))
	return out
}

// transition records a task status change and emits it. jr.mu must be held.
func (e *Engine) transition(ctx context.Context, jr *jobRun, name string, st task.Status, attempt int, message string, cause error) {
	prev := jr.statuses[name]
	if !prev.CanTransition(st) {
		slog.Error("invalid task transition", "job", jr.id, "task", name, "from", prev, "to", st)
		return
	}
	jr.statuses[name] = st

	now := e.now()
	r := jr.runs[name]
	r.Status = st
	r.Attempt = attempt
	switch st {
	case task.StatusRunning:
		r.StartedAt = now
		r.FinishedAt = time.Time{}
		r.Reason, r.Error = "", ""
	default:
		r.FinishedAt = now
		if st == task.StatusSkipped || st == task.StatusFailed {
			r.Reason = message
		}
		if cause != nil {
			r.Error = cause.Error()
		}
	}

	tr := progress.TaskTransition(name, st, attempt, message)
	tr.Err = cause
	e.emit(ctx, jr.id, tr)
}

func (e *Engine) emit(ctx context.Context, jobID string, t progress.Transition) {
	if e.progress == nil {
		return
	}
	if _, err := e.progress.Emit(ctx, jobID, t); err != nil {
		slog.Error("emit progress", "job", jobID, "type", t.Type, "agent", t.Agent, "error", err)
	}
}
