package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/casework/internal/store"
)

// ErrNotFound is returned for a job with no progress log.
var ErrNotFound = errors.New("no progress recorded for job")

// Log is the durable progress log. *store.Store implements it.
type Log interface {
	AppendEvent(ctx context.Context, ev store.EventRecord) error
	Events(ctx context.Context, jobID string, afterSeq int64) ([]store.EventRecord, error)
}

// Catalog supplies the canonical set of task names every snapshot reports
// on. *registry.Registry implements it.
type Catalog interface {
	AllNames() []string
}

type jobProgress struct {
	// mu orders emits for one job: seq assignment, the durable append,
	// the fold and the fan-out happen under it.
	mu   sync.Mutex
	snap Snapshot
}

// Broadcaster is the single entry point for progress changes.
type Broadcaster struct {
	log     Log
	catalog Catalog
	router  *Router
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]*jobProgress
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) BroadcasterOption {
	return func(b *Broadcaster) { b.now = now }
}

// WithRouter supplies the push router, e.g. to share one with other
// components or to set subscriber capacity.
func WithRouter(r *Router) BroadcasterOption {
	return func(b *Broadcaster) { b.router = r }
}

// NewBroadcaster creates a broadcaster writing to log.
func NewBroadcaster(log Log, catalog Catalog, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		log:     log,
		catalog: catalog,
		now:     time.Now,
		jobs:    make(map[string]*jobProgress),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.router == nil {
		b.router = NewRouter()
	}
	return b
}

// Router exposes the push router.
func (b *Broadcaster) Router() *Router {
	return b.router
}

// job returns the in-memory progress for jobID, rebuilding it from the log
// when this process has not seen the job yet (e.g. after a restart).
func (b *Broadcaster) job(ctx context.Context, jobID string) (*jobProgress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if jp, ok := b.jobs[jobID]; ok {
		return jp, nil
	}
	records, err := b.log.Events(ctx, jobID, 0)
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", jobID, err)
	}
	jp := &jobProgress{snap: newSnapshot(jobID, b.catalog.AllNames())}
	for _, r := range records {
		jp.snap.Apply(fromRecord(r))
	}
	b.jobs[jobID] = jp
	return jp, nil
}

// Emit records a transition: it assigns the next seq, appends the event to
// the durable log, folds it into the snapshot and pushes it to subscribers,
// in that order. If the append fails nothing else happens and the seq is
// not consumed.
func (b *Broadcaster) Emit(ctx context.Context, jobID string, t Transition) (Event, error) {
	jp, err := b.job(ctx, jobID)
	if err != nil {
		return Event{}, err
	}
	jp.mu.Lock()
	defer jp.mu.Unlock()

	details := t.Details
	if details == nil {
		details = []string{}
	}
	ev := Event{
		Type:      t.Type,
		JobID:     jobID,
		Seq:       jp.snap.LastSeq + 1,
		AgentName: t.Agent,
		Status:    t.Status,
		Attempt:   t.Attempt,
		Message:   t.Message,
		Details:   details,
		Timestamp: b.now().UTC(),
	}
	if t.Err != nil {
		ev.Error = t.Err.Error()
	}

	if err := b.log.AppendEvent(ctx, toRecord(ev)); err != nil {
		return Event{}, fmt.Errorf("emit %s for %s: %w", ev.Type, jobID, err)
	}
	jp.snap.Apply(ev)
	b.router.Route(ev)

	slog.Debug("progress", "job", jobID, "seq", ev.Seq, "type", ev.Type,
		"agent", ev.AgentName, "status", ev.Status, "attempt", ev.Attempt)
	return ev, nil
}

// Snapshot returns the pull view of a job. Jobs not in memory are rebuilt
// from the log; a job with no events at all is ErrNotFound.
func (b *Broadcaster) Snapshot(ctx context.Context, jobID string) (Snapshot, error) {
	jp, err := b.job(ctx, jobID)
	if err != nil {
		return Snapshot{}, err
	}
	jp.mu.Lock()
	defer jp.mu.Unlock()
	if jp.snap.LastSeq == 0 {
		b.drop(jobID, jp)
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", jobID, ErrNotFound)
	}
	return jp.snap.clone(), nil
}

// SubscribeWithSnapshot registers a push subscription and returns the
// snapshot at the moment of subscription. Every event after snap.LastSeq
// is offered to the subscription.
func (b *Broadcaster) SubscribeWithSnapshot(ctx context.Context, jobID string) (Snapshot, Subscription, error) {
	jp, err := b.job(ctx, jobID)
	if err != nil {
		return Snapshot{}, Subscription{}, err
	}
	jp.mu.Lock()
	defer jp.mu.Unlock()
	if jp.snap.LastSeq == 0 {
		b.drop(jobID, jp)
		return Snapshot{}, Subscription{}, fmt.Errorf("subscribe %s: %w", jobID, ErrNotFound)
	}
	snap := jp.snap.clone()
	if snap.OverallStatus.IsTerminal() {
		// Nothing more will be emitted; hand back an already closed stream.
		sub := b.router.Subscribe(jobID)
		sub.Close()
		return snap, sub, nil
	}
	return snap, b.router.Subscribe(jobID), nil
}

// Events returns the durable log of a job after afterSeq.
func (b *Broadcaster) Events(ctx context.Context, jobID string, afterSeq int64) ([]Event, error) {
	records, err := b.log.Events(ctx, jobID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("events %s: %w", jobID, err)
	}
	out := make([]Event, len(records))
	for i, r := range records {
		out[i] = fromRecord(r)
	}
	return out, nil
}

// Forget drops in-memory progress for a finished job. Later reads rebuild it
// from the log.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, jobID)
}

func (b *Broadcaster) drop(jobID string, jp *jobProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.jobs[jobID] == jp {
		delete(b.jobs, jobID)
	}
}
