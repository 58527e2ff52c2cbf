package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/task"
)

// DefaultTolerance is the relative tolerance of cross-field checks.
const DefaultTolerance = 0.005

// Source reads the current record of a job. *state.Store implements it.
type Source interface {
	Snapshot(ctx context.Context, jobID string) (state.Record, error)
}

// Config selects the checklist.
type Config struct {
	// Required overrides DefaultRequired when non-nil.
	Required []FieldRule

	// Recommended overrides DefaultRecommended when non-nil.
	Recommended []string

	// Schema is additional CUE source unified with the synthesized section.
	Schema string

	// Tolerance overrides DefaultTolerance when positive.
	Tolerance float64
}

// Gate validates synthesized sections.
type Gate struct {
	src         Source
	required    []FieldRule
	recommended []string
	tolerance   float64
	cue         *constraints
}

// New compiles the checklist. An invalid user schema is a startup error.
func New(src Source, cfg Config) (*Gate, error) {
	c, err := compileConstraints(cfg.Schema)
	if err != nil {
		return nil, err
	}
	g := &Gate{
		src:         src,
		required:    cfg.Required,
		recommended: cfg.Recommended,
		tolerance:   cfg.Tolerance,
		cue:         c,
	}
	if g.required == nil {
		g.required = DefaultRequired
	}
	if g.recommended == nil {
		g.recommended = DefaultRecommended
	}
	if g.tolerance <= 0 {
		g.tolerance = DefaultTolerance
	}
	return g, nil
}

// Validate checks the job's current synthesized section.
func (g *Gate) Validate(ctx context.Context, jobID string) (Report, error) {
	rec, err := g.src.Snapshot(ctx, jobID)
	if err != nil {
		return Report{}, fmt.Errorf("validate %s: %w", jobID, err)
	}
	report := g.Check(rec)
	slog.Debug("gate validated", "job", jobID, "version", report.Version,
		"valid", report.IsValid, "issues", len(report.Issues))
	return report, nil
}

// Check runs the checklist against a record. It is a pure function of the
// record.
func (g *Gate) Check(rec state.Record) Report {
	report := Report{JobID: rec.JobID, Version: rec.Version, Issues: []Issue{}}

	syn, ok := rec.Sections[task.SynthesisName]
	if !ok {
		report.Issues = append(report.Issues, Issue{SeverityCritical, task.SynthesisName, "synthesized section is missing"})
		return finish(report)
	}

	report.Issues = append(report.Issues, checkRequired(syn, g.required)...)
	report.Issues = append(report.Issues, checkRecommended(syn, g.recommended)...)

	// One CUE issue per field, and none for fields the rules already flagged.
	flagged := make(map[string]bool, len(report.Issues))
	for _, i := range report.Issues {
		if i.Severity == SeverityCritical {
			flagged[i.Field] = true
		}
	}
	for _, i := range g.cue.check(syn) {
		if !flagged[i.Field] {
			report.Issues = append(report.Issues, i)
			flagged[i.Field] = true
		}
	}

	report.Issues = append(report.Issues, checkCrossField(syn, g.tolerance)...)
	return finish(report)
}

func finish(r Report) Report {
	sortIssues(r.Issues)
	r.IsValid = len(r.Critical()) == 0
	return r
}

// Guard re-validates the job immediately before calling fn. When the state
// is invalid fn is not called and a *ValidationBlockedError is returned.
// fn receives the exact record that passed validation.
func (g *Gate) Guard(ctx context.Context, jobID string, fn func(context.Context, state.Record) error) (Report, error) {
	rec, err := g.src.Snapshot(ctx, jobID)
	if err != nil {
		return Report{}, fmt.Errorf("guard %s: %w", jobID, err)
	}
	report := g.Check(rec)
	if !report.IsValid {
		slog.Warn("generation blocked", "job", jobID, "version", report.Version, "critical", len(report.Critical()))
		return report, &ValidationBlockedError{JobID: jobID, Version: rec.Version, Issues: report.Issues}
	}
	if err := fn(ctx, rec); err != nil {
		return report, err
	}
	return report, nil
}

// Synthesized extracts the synthesized section of a record, or nil.
func Synthesized(rec state.Record) section.Data {
	return rec.Sections[task.SynthesisName]
}
