package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/task"
)

// fakeSource serves records from memory so tests can rewrite them between
// validations.
type fakeSource map[string]state.Record

func (f fakeSource) Snapshot(_ context.Context, jobID string) (state.Record, error) {
	rec, ok := f[jobID]
	if !ok {
		return state.Record{}, state.ErrNotFound
	}
	return rec, nil
}

func record(jobID string, version int64, syn section.Data) state.Record {
	rec := state.Record{JobID: jobID, Version: version, Sections: map[string]section.Data{}}
	if syn != nil {
		rec.Sections[task.SynthesisName] = syn
	}
	return rec
}

func completeSynthesis() section.Data {
	return section.Data{
		"company":            "Acme",
		"enterprise_value":   100.0,
		"equity_value":       80.0,
		"net_debt":           20.0,
		"share_price":        8.0,
		"shares_outstanding": 10.0,
		"recommendation":     "buy",
		"scenarios":          map[string]any{"bear": 80.0, "base": 100.0, "bull": 130.0},
		"sources":            []any{"10-K"},
	}
}

func newGate(t *testing.T, src Source, cfg Config) *Gate {
	t.Helper()
	g, err := New(src, cfg)
	require.NoError(t, err)
	return g
}

func fieldsOf(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Field
	}
	return out
}

func TestValidateCompleteSynthesis(t *testing.T) {
	g := newGate(t, fakeSource{"job-1": record("job-1", 9, completeSynthesis())}, Config{})

	r, err := g.Validate(t.Context(), "job-1")
	require.NoError(t, err)
	assert.True(t, r.IsValid)
	assert.Empty(t, r.Issues)
	assert.Equal(t, int64(9), r.Version)
}

func TestValidateHeadlineOnlyIsValid(t *testing.T) {
	// Only the headline figure: valid, with warnings for the recommended fields.
	g := newGate(t, fakeSource{"job-1": record("job-1", 3, section.Data{"enterprise_value": 100.0})}, Config{})

	r, err := g.Validate(t.Context(), "job-1")
	require.NoError(t, err)
	assert.True(t, r.IsValid)
	assert.Empty(t, r.Critical())
	assert.Equal(t, DefaultRecommended, fieldsOf(r.Warnings()))
}

func TestValidateMissingSynthesis(t *testing.T) {
	g := newGate(t, fakeSource{"job-empty": record("job-empty", 3, nil)}, Config{})

	r, err := g.Validate(t.Context(), "job-empty")
	require.NoError(t, err)
	assert.False(t, r.IsValid)

	out, err := r.Canonical()
	require.NoError(t, err)
	gd := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	gd.Assert(t, "report_missing_synthesis", out)
}

func TestValidateRequiredFieldProblems(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		present bool
		message string
	}{
		{"missing", nil, false, "required field is missing"},
		{"null", nil, true, "required field is null"},
		{"wrong kind", "a lot", true, "expected number, got string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syn := completeSynthesis()
			delete(syn, "enterprise_value")
			if tt.present {
				syn["enterprise_value"] = tt.value
			}
			g := newGate(t, fakeSource{"j": record("j", 1, syn)}, Config{})

			r, err := g.Validate(t.Context(), "j")
			require.NoError(t, err)
			assert.False(t, r.IsValid)
			crit := r.Critical()
			require.Len(t, crit, 1, "CUE does not repeat a field the rules flagged")
			assert.Equal(t, "enterprise_value", crit[0].Field)
			assert.Equal(t, tt.message, crit[0].Message)
		})
	}
}

func TestValidateNestedRequiredRule(t *testing.T) {
	syn := completeSynthesis()
	syn["scenarios"] = map[string]any{"bear": 1.0}
	g := newGate(t, fakeSource{"j": record("j", 1, syn)}, Config{
		Required: []FieldRule{{Path: "enterprise_value", Kind: "number"}, {Path: "scenarios.base", Kind: "number"}},
	})

	r, err := g.Validate(t.Context(), "j")
	require.NoError(t, err)
	assert.False(t, r.IsValid)
	assert.Equal(t, []string{"scenarios.base"}, fieldsOf(r.Critical()))
}

func TestValidateRecommendedNullIsCritical(t *testing.T) {
	syn := completeSynthesis()
	syn["net_debt"] = nil
	g := newGate(t, fakeSource{"j": record("j", 1, syn)}, Config{})

	r, err := g.Validate(t.Context(), "j")
	require.NoError(t, err)
	assert.False(t, r.IsValid)
	assert.Equal(t, []string{"net_debt"}, fieldsOf(r.Critical()))
}

func TestValidateCUEConstraints(t *testing.T) {
	syn := completeSynthesis()
	syn["enterprise_value"] = -5.0
	syn["recommendation"] = "strong buy"
	g := newGate(t, fakeSource{"j": record("j", 1, syn)}, Config{})

	r, err := g.Validate(t.Context(), "j")
	require.NoError(t, err)
	assert.False(t, r.IsValid)
	assert.Equal(t, []string{"enterprise_value", "recommendation"}, fieldsOf(r.Critical()))
	for _, is := range r.Critical() {
		assert.Contains(t, is.Message, "constraint violated")
	}
}

func TestValidateUserSchema(t *testing.T) {
	g := newGate(t, fakeSource{"j": record("j", 1, completeSynthesis())}, Config{
		Schema: `enterprise_value?: number & <=50`,
	})

	r, err := g.Validate(t.Context(), "j")
	require.NoError(t, err)
	assert.False(t, r.IsValid)
	assert.Equal(t, []string{"enterprise_value"}, fieldsOf(r.Critical()))
}

func TestNewRejectsInvalidUserSchema(t *testing.T) {
	_, err := New(fakeSource{}, Config{Schema: `enterprise_value: number &`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile user constraints")
}

func TestCrossFieldWarningsGolden(t *testing.T) {
	syn := section.Data{
		"company":          "Acme",
		"enterprise_value": 100.0,
		"equity_value":     90.0,
		"net_debt":         20.0,
		"recommendation":   "buy",
		"scenarios":        map[string]any{"bear": 120.0, "base": 100.0, "bull": 130.0},
	}
	g := newGate(t, fakeSource{"job-golden": record("job-golden", 7, syn)}, Config{})

	r, err := g.Validate(t.Context(), "job-golden")
	require.NoError(t, err)
	assert.True(t, r.IsValid, "warnings do not block")

	out, err := r.Canonical()
	require.NoError(t, err)
	gd := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	gd.Assert(t, "report_warnings", out)
}

func TestSharePriceConsistency(t *testing.T) {
	syn := completeSynthesis()
	syn["share_price"] = 12.0
	g := newGate(t, fakeSource{"j": record("j", 1, syn)}, Config{})

	r, err := g.Validate(t.Context(), "j")
	require.NoError(t, err)
	assert.True(t, r.IsValid)
	assert.Equal(t, []string{"share_price"}, fieldsOf(r.Warnings()))
}

func TestValidateIsIdempotent(t *testing.T) {
	syn := completeSynthesis()
	syn["enterprise_value"] = nil
	syn["equity_value"] = 1.0
	g := newGate(t, fakeSource{"j": record("j", 4, syn)}, Config{})

	first, err := g.Validate(t.Context(), "j")
	require.NoError(t, err)
	for range 5 {
		again, err := g.Validate(t.Context(), "j")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestValidateReadsCurrentState(t *testing.T) {
	src := fakeSource{"j": record("j", 1, section.Data{})}
	g := newGate(t, src, Config{})

	r, err := g.Validate(t.Context(), "j")
	require.NoError(t, err)
	assert.False(t, r.IsValid)

	src["j"] = record("j", 2, completeSynthesis())
	r, err = g.Validate(t.Context(), "j")
	require.NoError(t, err)
	assert.True(t, r.IsValid)
	assert.Equal(t, int64(2), r.Version)
}

func TestValidateUnknownJob(t *testing.T) {
	g := newGate(t, fakeSource{}, Config{})
	_, err := g.Validate(t.Context(), "ghost")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestGuardBlocksInvalidState(t *testing.T) {
	syn := completeSynthesis()
	delete(syn, "enterprise_value")
	g := newGate(t, fakeSource{"j": record("j", 1, syn)}, Config{})

	called := false
	report, err := g.Guard(t.Context(), "j", func(context.Context, state.Record) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "generator must not run")
	assert.True(t, IsValidationBlocked(err))

	var vb *ValidationBlockedError
	require.ErrorAs(t, err, &vb)
	assert.Equal(t, "j", vb.JobID)
	assert.Equal(t, report.Issues, vb.Issues)
	assert.Contains(t, err.Error(), "enterprise_value")
}

func TestGuardRunsGeneratorOnValidState(t *testing.T) {
	g := newGate(t, fakeSource{"j": record("j", 5, completeSynthesis())}, Config{})

	var seen int64
	_, err := g.Guard(t.Context(), "j", func(_ context.Context, rec state.Record) error {
		seen = rec.Version
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), seen)

	boom := errors.New("disk full")
	_, err = g.Guard(t.Context(), "j", func(context.Context, state.Record) error { return boom })
	assert.ErrorIs(t, err, boom)
}
