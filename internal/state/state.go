package state

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/store"
	"github.com/roach88/casework/internal/task"
)

// Sentinel errors returned by Store operations.
var (
	ErrNotFound       = errors.New("job not found")
	ErrNotOwner       = errors.New("writer does not own section")
	ErrUnknownSection = errors.New("unknown section")
	ErrSealed         = errors.New("record is sealed")
	ErrExists         = errors.New("job already exists")
)

// Persister is the durable side of the store. *store.Store implements it.
type Persister interface {
	CreateJob(ctx context.Context, id string, params task.Params, now time.Time) error
	CommitSection(ctx context.Context, jobID, name, writer string, data section.Data, expectVersion int64, now time.Time) (int64, error)
	UpdateJobStatus(ctx context.Context, id string, status task.JobStatus, errMsg string, now time.Time) error
	LoadRecord(ctx context.Context, id string) (store.Record, error)
}

// Catalog tells the store which sections exist. *registry.Registry
// implements it.
type Catalog interface {
	Has(name string) bool
}

// Record is an immutable snapshot of a job's shared state. Values returned
// by Store are private copies and may be modified by the caller.
type Record struct {
	JobID    string                  `json:"job_id"`
	Params   task.Params             `json:"params"`
	Version  int64                   `json:"version"`
	Status   task.JobStatus          `json:"status"`
	Error    string                  `json:"error,omitempty"`
	Sections map[string]section.Data `json:"sections"`

	// UpdatedAt is the time of the last committed change.
	UpdatedAt time.Time `json:"updated_at"`

	// SectionVersions records the record version at which each section was
	// last written.
	SectionVersions map[string]int64 `json:"section_versions"`
}

// Sealed reports whether the record accepts no further writes.
func (r Record) Sealed() bool {
	return r.Status.IsTerminal()
}

// clone deep-copies r.
func (r *Record) clone() Record {
	out := *r
	out.Params = r.Params.Clone()
	out.Sections = make(map[string]section.Data, len(r.Sections))
	for name, d := range r.Sections {
		out.Sections[name] = section.Clone(d)
	}
	out.SectionVersions = maps.Clone(r.SectionVersions)
	if out.SectionVersions == nil {
		out.SectionVersions = map[string]int64{}
	}
	return out
}

// with returns a shallow copy of r with one section replaced. Section data
// maps are never mutated after publication, so sharing them is safe.
func (r *Record) with(name string, data section.Data, version int64, at time.Time) *Record {
	next := *r
	next.Version = version
	next.UpdatedAt = at
	next.Sections = maps.Clone(r.Sections)
	if next.Sections == nil {
		next.Sections = map[string]section.Data{}
	}
	next.Sections[name] = data
	next.SectionVersions = maps.Clone(r.SectionVersions)
	if next.SectionVersions == nil {
		next.SectionVersions = map[string]int64{}
	}
	next.SectionVersions[name] = version
	return &next
}

type jobState struct {
	// mu serialises writers; readers only load rec.
	mu  sync.Mutex
	rec atomic.Pointer[Record]
}

// Store holds the live records of all jobs known to this process.
type Store struct {
	db      Persister
	catalog Catalog
	now     func() time.Time

	mu   sync.RWMutex
	jobs map[string]*jobState
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for persisted timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store backed by db. catalog decides which section names are
// valid.
func New(db Persister, catalog Catalog, opts ...Option) *Store {
	s := &Store{
		db:      db,
		catalog: catalog,
		now:     time.Now,
		jobs:    make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new empty record at version 0 and persists it.
func (s *Store) Create(ctx context.Context, jobID string, params task.Params) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; ok {
		return Record{}, fmt.Errorf("create record %s: %w", jobID, ErrExists)
	}
	params = params.Clone()
	now := s.now().UTC()
	if err := s.db.CreateJob(ctx, jobID, params, now); err != nil {
		return Record{}, fmt.Errorf("create record %s: %w", jobID, err)
	}
	rec := &Record{
		JobID:           jobID,
		Params:          params,
		Status:          task.JobPending,
		Sections:        map[string]section.Data{},
		SectionVersions: map[string]int64{},
		UpdatedAt:       now,
	}
	js := &jobState{}
	js.rec.Store(rec)
	s.jobs[jobID] = js
	return rec.clone(), nil
}

// Recover loads a job's record from durable storage into memory, replacing
// any in-memory copy. Use it at restart before resuming a job.
func (s *Store) Recover(ctx context.Context, jobID string) (Record, error) {
	persisted, err := s.db.LoadRecord(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Record{}, fmt.Errorf("recover %s: %w", jobID, ErrNotFound)
		}
		return Record{}, fmt.Errorf("recover %s: %w", jobID, err)
	}
	rec := fromPersisted(persisted)

	s.mu.Lock()
	js, ok := s.jobs[jobID]
	if !ok {
		js = &jobState{}
		s.jobs[jobID] = js
	}
	s.mu.Unlock()

	js.mu.Lock()
	js.rec.Store(rec)
	js.mu.Unlock()
	return rec.clone(), nil
}

func fromPersisted(p store.Record) *Record {
	rec := &Record{
		JobID:           p.Job.ID,
		Params:          p.Job.Params,
		Version:         p.Job.Version,
		Status:          p.Job.Status,
		Error:           p.Job.Error,
		UpdatedAt:       p.Job.UpdatedAt,
		Sections:        make(map[string]section.Data, len(p.Sections)),
		SectionVersions: make(map[string]int64, len(p.Sections)),
	}
	for name, row := range p.Sections {
		rec.Sections[name] = row.Data
		rec.SectionVersions[name] = row.Version
	}
	return rec
}

// lookup returns the in-memory job, loading it from durable storage on a
// miss so late readers (after a restart, or after Forget) still see it.
func (s *Store) lookup(ctx context.Context, jobID string) (*jobState, error) {
	s.mu.RLock()
	js, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if ok {
		return js, nil
	}
	if _, err := s.Recover(ctx, jobID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[jobID], nil
}

// Snapshot returns a consistent copy of the whole record.
func (s *Store) Snapshot(ctx context.Context, jobID string) (Record, error) {
	js, err := s.lookup(ctx, jobID)
	if err != nil {
		return Record{}, err
	}
	return js.rec.Load().clone(), nil
}

// Section returns a copy of one section. ok is false when the section has
// not been written.
func (s *Store) Section(ctx context.Context, jobID, name string) (data section.Data, ok bool, err error) {
	js, err := s.lookup(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	d, ok := js.rec.Load().Sections[name]
	if !ok {
		return nil, false, nil
	}
	return section.Clone(d), true, nil
}

// SetSection writes one section on behalf of writer and returns the new
// record version.
//
// The write is rejected without side effects when the section is unknown,
// writer is not its owner, or the record is sealed.
func (s *Store) SetSection(ctx context.Context, jobID, writer, name string, data section.Data) (int64, error) {
	if !s.catalog.Has(name) {
		return 0, fmt.Errorf("set section %s: %w", name, ErrUnknownSection)
	}
	if writer != name {
		return 0, fmt.Errorf("set section %s by %s: %w", name, writer, ErrNotOwner)
	}
	normalized, err := section.Normalize(data)
	if err != nil {
		return 0, fmt.Errorf("set section %s: %w", name, err)
	}

	js, err := s.lookup(ctx, jobID)
	if err != nil {
		return 0, err
	}
	js.mu.Lock()
	defer js.mu.Unlock()

	cur := js.rec.Load()
	if cur.Sealed() {
		return 0, fmt.Errorf("set section %s: job %s is %s: %w", name, jobID, cur.Status, ErrSealed)
	}
	now := s.now().UTC()
	version, err := s.db.CommitSection(ctx, jobID, name, writer, normalized, cur.Version, now)
	if err != nil {
		return 0, fmt.Errorf("set section %s: %w", name, err)
	}
	js.rec.Store(cur.with(name, normalized, version, now))
	return version, nil
}

// SetStatus records the job status. A terminal status seals the record.
func (s *Store) SetStatus(ctx context.Context, jobID string, status task.JobStatus, errMsg string) error {
	js, err := s.lookup(ctx, jobID)
	if err != nil {
		return err
	}
	js.mu.Lock()
	defer js.mu.Unlock()

	cur := js.rec.Load()
	if cur.Sealed() {
		return fmt.Errorf("set status %s: job %s is %s: %w", status, jobID, cur.Status, ErrSealed)
	}
	now := s.now().UTC()
	if err := s.db.UpdateJobStatus(ctx, jobID, status, errMsg, now); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	next := *cur
	next.Status = status
	next.Error = errMsg
	next.UpdatedAt = now
	js.rec.Store(&next)
	return nil
}

// View builds the read-only view handed to an agent. Sections named in
// fallbacks are replaced by the fallback data and flagged as such.
func (s *Store) View(ctx context.Context, jobID string, fallbacks map[string]section.Data) (task.View, error) {
	js, err := s.lookup(ctx, jobID)
	if err != nil {
		return task.View{}, err
	}
	rec := js.rec.Load()
	sections := rec.Sections
	var used map[string]bool
	if len(fallbacks) > 0 {
		sections = maps.Clone(rec.Sections)
		used = make(map[string]bool, len(fallbacks))
		for name, fb := range fallbacks {
			normalized, err := section.Normalize(fb)
			if err != nil {
				return task.View{}, fmt.Errorf("fallback for %s: %w", name, err)
			}
			sections[name] = normalized
			used[name] = true
		}
	}
	return task.NewView(rec.JobID, rec.Params, rec.Version, sections, used), nil
}

// Forget drops the in-memory copy of a job. Later reads reload it from
// durable storage.
func (s *Store) Forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}
