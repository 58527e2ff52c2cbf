package task

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/roach88/casework/internal/section"
)

// SynthesisName is the reserved section written by the synthesis step.
const SynthesisName = "synthesized"

// Params are the user-supplied job parameters (company, analysis_type, ...).
type Params map[string]string

// Clone copies p.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return maps.Clone(p)
}

// Agent is one analysis task.
type Agent interface {
	Run(ctx context.Context, view View) (Result, error)
}

// AgentFunc adapts a plain function to Agent.
type AgentFunc func(ctx context.Context, view View) (Result, error)

// Run calls f.
func (f AgentFunc) Run(ctx context.Context, view View) (Result, error) {
	return f(ctx, view)
}

// Result is what an agent hands back.
//
// Section may be left empty, in which case the result is written to the
// agent's own section. Naming any other section is an ownership violation.
// Status defaults to COMPLETED; an agent that reports FAILED should set Err.
type Result struct {
	Section string
	Data    section.Data
	Status  Status
	Err     error
}

// View is an immutable snapshot of a job record handed to an agent.
// Every accessor returns a copy.
type View struct {
	jobID     string
	params    Params
	version   int64
	sections  map[string]section.Data
	fallbacks map[string]bool
}

// NewView builds a view. The caller must not mutate sections afterwards;
// the state store passes its immutable snapshot maps here.
func NewView(jobID string, params Params, version int64, sections map[string]section.Data, fallbacks map[string]bool) View {
	return View{
		jobID:     jobID,
		params:    params,
		version:   version,
		sections:  sections,
		fallbacks: fallbacks,
	}
}

func (v View) JobID() string  { return v.jobID }
func (v View) Version() int64 { return v.version }
func (v View) Params() Params { return v.params.Clone() }

// Param returns a single parameter, or def when it is unset or empty.
func (v View) Param(name, def string) string {
	if s, ok := v.params[name]; ok && s != "" {
		return s
	}
	return def
}

// Section returns a copy of the named section.
func (v View) Section(name string) (section.Data, bool) {
	d, ok := v.sections[name]
	if !ok {
		return nil, false
	}
	return section.Clone(d), true
}

// Sections returns a copy of every section present in the view.
func (v View) Sections() map[string]section.Data {
	out := make(map[string]section.Data, len(v.sections))
	for name, d := range v.sections {
		out[name] = section.Clone(d)
	}
	return out
}

// Names lists the sections present, sorted.
func (v View) Names() []string {
	return slices.Sorted(maps.Keys(v.sections))
}

// UsedFallback reports whether the named section holds a configured
// fallback rather than data written by its task.
func (v View) UsedFallback(name string) bool {
	return v.fallbacks[name]
}

// Run is one TaskRun: the latest known attempt of a task within a job.
type Run struct {
	Task       string    `json:"task"`
	Attempt    int       `json:"attempt"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}
