package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/casework/internal/artifact"
	"github.com/roach88/casework/internal/engine"
	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/store"
	"github.com/roach88/casework/internal/task"
)

// Config wires a Manager to the rest of the core.
type Config struct {
	Store    *store.Store
	Registry *registry.Registry
	States   *state.Store
	Progress *progress.Broadcaster
	Engine   *engine.Engine
	Gate     *gate.Gate
}

// Manager runs jobs in the background and answers lifecycle queries.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	db       *store.Store
	reg      *registry.Registry
	states   *state.Store
	progress *progress.Broadcaster
	engine   *engine.Engine
	gate     *gate.Gate
	ids      IDGenerator

	mu      sync.Mutex
	active  map[string]*run
	closing bool
	wg      sync.WaitGroup
}

// run is one engine execution owned by the manager.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator replaces the UUIDv7 id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) {
		m.ids = g
	}
}

// New creates a Manager. Every Config field is required.
func New(cfg Config, opts ...Option) (*Manager, error) {
	switch {
	case cfg.Store == nil, cfg.Registry == nil, cfg.States == nil,
		cfg.Progress == nil, cfg.Engine == nil, cfg.Gate == nil:
		return nil, errors.New("jobs: incomplete config")
	}
	m := &Manager{
		db:       cfg.Store,
		reg:      cfg.Registry,
		states:   cfg.States,
		progress: cfg.Progress,
		engine:   cfg.Engine,
		gate:     cfg.Gate,
		ids:      UUIDv7Generator{},
		active:   make(map[string]*run),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Registry returns the task registry jobs run against.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Start creates a job and schedules it in the background.
func (m *Manager) Start(ctx context.Context, params task.Params) (string, error) {
	m.mu.Lock()
	closing := m.closing
	m.mu.Unlock()
	if closing {
		return "", ErrShuttingDown
	}

	id := m.ids.Generate()
	if _, err := m.states.Create(ctx, id, params); err != nil {
		return "", fmt.Errorf("start job: %w", err)
	}
	if _, err := m.progress.Emit(ctx, id, progress.JobTransition(task.JobPending, "job created")); err != nil {
		return "", fmt.Errorf("start job %s: %w", id, err)
	}
	slog.Info("job created", "job", id, "params", len(params))
	m.launch(engine.Job{ID: id, Params: params})
	return id, nil
}

func (m *Manager) launch(job engine.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.active[job.ID] = r
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		_, err := m.engine.Run(ctx, job)
		if err != nil {
			slog.Error("job run failed", "job", job.ID, "error", err)
		}
		m.mu.Lock()
		r.err = err
		delete(m.active, job.ID)
		m.mu.Unlock()
		close(r.done)
	}()
}

func (m *Manager) running(id string) (*run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.active[id]
	return r, ok
}

// Wait blocks until the job run by this process finishes, then returns its
// summary. For a job not running here it returns the current summary.
func (m *Manager) Wait(ctx context.Context, id string) (Summary, error) {
	if r, ok := m.running(id); ok {
		select {
		case <-r.done:
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
		if r.err != nil {
			return Summary{}, r.err
		}
	}
	return m.Get(ctx, id)
}

func (m *Manager) load(ctx context.Context, id string) (state.Record, Summary, error) {
	rec, err := m.states.Snapshot(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return state.Record{}, Summary{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return state.Record{}, Summary{}, fmt.Errorf("load job %s: %w", id, err)
	}
	events, err := m.progress.Events(ctx, id, 0)
	if err != nil {
		return state.Record{}, Summary{}, fmt.Errorf("load job %s: %w", id, err)
	}
	return rec, summarize(rec, progress.Runs(events), m.reg.AllNames()), nil
}

// Get returns the job's current summary.
func (m *Manager) Get(ctx context.Context, id string) (Summary, error) {
	_, s, err := m.load(ctx, id)
	return s, err
}

// List returns the summaries of every job, oldest first, optionally
// filtered by status.
func (m *Manager) List(ctx context.Context, statuses ...task.JobStatus) ([]Summary, error) {
	rows, err := m.db.ListJobs(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		s, err := m.Get(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Result returns the final state of a finished job, ErrNotFound, or
// ErrNotFinished.
func (m *Manager) Result(ctx context.Context, id string) (Result, error) {
	rec, s, err := m.load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !rec.Status.IsTerminal() {
		return Result{}, fmt.Errorf("job %s is %s: %w", id, rec.Status, ErrNotFinished)
	}
	return Result{
		Summary:     s,
		Sections:    rec.Sections,
		Synthesized: rec.Sections[task.SynthesisName],
	}, nil
}

// Cancel stops a job running in this process. Pending tasks are skipped,
// in-flight attempts abandoned and the job ends FAILED.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if r, ok := m.running(id); ok {
		r.cancel()
		slog.Info("job cancel requested", "job", id)
		return nil
	}
	rec, _, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("cancel %s: %w", id, ErrFinished)
	}
	return fmt.Errorf("cancel %s: %w", id, ErrNotRunning)
}

// Progress returns the pull snapshot.
func (m *Manager) Progress(ctx context.Context, id string) (progress.Snapshot, error) {
	snap, err := m.progress.Snapshot(ctx, id)
	if errors.Is(err, progress.ErrNotFound) {
		return progress.Snapshot{}, fmt.Errorf("progress %s: %w", id, ErrNotFound)
	}
	return snap, err
}

// Subscribe returns the current snapshot plus a push subscription for
// everything after it. The subscription of a finished job is already
// closed. Callers must Close the subscription.
func (m *Manager) Subscribe(ctx context.Context, id string) (progress.Snapshot, progress.Subscription, error) {
	snap, sub, err := m.progress.SubscribeWithSnapshot(ctx, id)
	if errors.Is(err, progress.ErrNotFound) {
		return progress.Snapshot{}, progress.Subscription{}, fmt.Errorf("subscribe %s: %w", id, ErrNotFound)
	}
	return snap, sub, err
}

// Events returns the durable progress log of a job after afterSeq.
func (m *Manager) Events(ctx context.Context, id string, afterSeq int64) ([]progress.Event, error) {
	events, err := m.progress.Events(ctx, id, afterSeq)
	if err != nil {
		return nil, err
	}
	if afterSeq == 0 && len(events) == 0 {
		return nil, fmt.Errorf("events %s: %w", id, ErrNotFound)
	}
	return events, nil
}

// Validate runs the consistency gate against the job's current state.
func (m *Manager) Validate(ctx context.Context, id string) (gate.Report, error) {
	report, err := m.gate.Validate(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		return gate.Report{}, fmt.Errorf("validate %s: %w", id, ErrNotFound)
	}
	return report, err
}

// Generate produces one artifact for a finished job. The gate re-validates
// the state first; on critical issues gen is never called and a
// *gate.ValidationBlockedError is returned.
func (m *Manager) Generate(ctx context.Context, id string, gen artifact.Generator) (string, gate.Report, error) {
	rec, _, err := m.load(ctx, id)
	if err != nil {
		return "", gate.Report{}, err
	}
	if !rec.Status.IsTerminal() {
		return "", gate.Report{}, fmt.Errorf("generate %s: job is %s: %w", id, rec.Status, ErrNotFinished)
	}

	var location string
	report, err := m.gate.Guard(ctx, id, func(ctx context.Context, rec state.Record) error {
		loc, err := gen.Generate(ctx, rec)
		if err != nil {
			return err
		}
		location = loc
		return nil
	})
	if err != nil {
		return "", report, fmt.Errorf("generate %s %s: %w", gen.Kind(), id, err)
	}
	slog.Info("artifact generated", "job", id, "kind", gen.Kind(), "location", location, "version", report.Version)
	return location, report, nil
}

// Resume restarts every job left PENDING or RUNNING by a previous process.
// Completed task runs are kept. It returns the number of jobs resumed.
func (m *Manager) Resume(ctx context.Context) (int, error) {
	rows, err := m.db.ListJobs(ctx, task.JobPending, task.JobRunning)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	n := 0
	for _, row := range rows {
		if _, ok := m.running(row.ID); ok {
			continue
		}
		if _, err := m.states.Recover(ctx, row.ID); err != nil {
			return n, fmt.Errorf("resume %s: %w", row.ID, err)
		}
		events, err := m.progress.Events(ctx, row.ID, 0)
		if err != nil {
			return n, fmt.Errorf("resume %s: %w", row.ID, err)
		}
		runs := progress.Runs(events)
		slog.Info("job resumed", "job", row.ID, "status", row.Status, "runs", len(runs))
		m.launch(engine.Job{ID: row.ID, Params: row.Params, Resume: runs})
		n++
	}
	return n, nil
}

// Shutdown stops accepting jobs and waits for running ones. If ctx ends
// first the remaining jobs are left as they are; Resume picks them up on the
// next start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
