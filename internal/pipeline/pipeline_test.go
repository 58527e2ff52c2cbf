package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casework/internal/engine"
	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/store"
	"github.com/roach88/casework/internal/task"
)

type rig struct {
	states *state.Store
	eng    *engine.Engine
	gate   *gate.Gate
	reg    *registry.Registry
}

func setupRig(t *testing.T) *rig {
	t.Helper()
	reg := registry.New()
	require.NoError(t, Register(reg))
	require.NoError(t, reg.Validate())

	db, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	states := state.New(db, reg)
	eng, err := engine.New(reg, states, progress.NewBroadcaster(db, reg),
		engine.WithBackoff(engine.Backoff{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))
	require.NoError(t, err)
	g, err := gate.New(states, gate.Config{})
	require.NoError(t, err)
	return &rig{states: states, eng: eng, gate: g, reg: reg}
}

func (r *rig) run(t *testing.T, id string, params task.Params) engine.Outcome {
	t.Helper()
	_, err := r.states.Create(t.Context(), id, params)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	out, err := r.eng.Run(ctx, engine.Job{ID: id, Params: params})
	require.NoError(t, err)
	return out
}

func TestRegister_Catalog(t *testing.T) {
	reg := registry.New()
	require.NoError(t, Register(reg))
	require.NoError(t, reg.Validate())

	assert.Equal(t, []string{
		CompanyProfile, Financials, MarketResearch, Competitors,
		DCFValuation, Comparables, RiskAssessment,
	}, reg.Names())
	assert.Equal(t, 8, reg.Total())

	dcf, ok := reg.Get(DCFValuation)
	require.True(t, ok)
	assert.True(t, dcf.Required)
	assert.False(t, reg.IsHard(DCFValuation, MarketResearch))
	assert.True(t, reg.IsHard(DCFValuation, Financials))
	assert.Equal(t, registry.DefaultMaxRetries, dcf.Retries())

	synth, ok := reg.Synthesis()
	require.True(t, ok)
	assert.Equal(t, registry.DefaultMaxRetries, synth.Retries())
}

func TestPipeline_FullRunIsValid(t *testing.T) {
	r := setupRig(t)
	out := r.run(t, "job-full", task.Params{"company": "Acme", "price": "30"})

	assert.Equal(t, task.JobCompleted, out.Status)

	report, err := r.gate.Validate(t.Context(), "job-full")
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Issues)

	rec, err := r.states.Snapshot(t.Context(), "job-full")
	require.NoError(t, err)
	syn := rec.Sections[task.SynthesisName]
	assert.Equal(t, 4200.0, syn["enterprise_value"])
	assert.Equal(t, 4000.0, syn["equity_value"])
	assert.Equal(t, 40.0, syn["share_price"])
	assert.Equal(t, "buy", syn["recommendation"])
	assert.Equal(t, map[string]any{"bear": 2000.0, "base": 4200.0, "bull": 5040.0}, syn["scenarios"])
	assert.Len(t, syn["sources"], 7)
}

func TestPipeline_QuickAnalysisSkipsCompetitors(t *testing.T) {
	r := setupRig(t)
	out := r.run(t, "job-quick", task.Params{"company": "Acme", "analysis_type": "quick"})

	assert.Equal(t, task.JobCompleted, out.Status)
	assert.Equal(t, task.StatusSkipped, out.Runs[Competitors].Status)
	assert.Equal(t, "not applicable", out.Runs[Competitors].Reason)

	rec, err := r.states.Snapshot(t.Context(), "job-quick")
	require.NoError(t, err)
	assert.Equal(t, 8.0, rec.Sections[Comparables]["multiple"], "comparables used the competitors fallback")
	assert.NotContains(t, rec.Sections[task.SynthesisName]["sources"], Competitors)
}

func TestPipeline_OptionalFailureIsPartial(t *testing.T) {
	r := setupRig(t)
	out := r.run(t, "job-partial", task.Params{"company": "Acme", "growth": "0.2"})

	assert.Equal(t, task.JobPartial, out.Status)
	assert.Equal(t, task.StatusFailed, out.Runs[MarketResearch].Status)

	rec, err := r.states.Snapshot(t.Context(), "job-partial")
	require.NoError(t, err)
	assert.Equal(t, 0.02, rec.Sections[DCFValuation]["growth"], "dcf used the market research fallback")
	assert.Equal(t, 2550.0, rec.Sections[task.SynthesisName]["enterprise_value"])
}

func TestPipeline_MissingCompanyFails(t *testing.T) {
	r := setupRig(t)
	out := r.run(t, "job-nocompany", task.Params{})

	assert.Equal(t, task.JobFailed, out.Status)
	assert.Equal(t, task.StatusFailed, out.Runs[CompanyProfile].Status)
	assert.Equal(t, "blocked by company_profile", out.Runs[DCFValuation].Reason)

	report, err := r.gate.Validate(t.Context(), "job-nocompany")
	require.NoError(t, err)
	assert.False(t, report.IsValid)
}

func TestRecommend(t *testing.T) {
	view := func(price string) task.View {
		return task.NewView("j", task.Params{"price": price}, 0, nil, nil)
	}
	assert.Equal(t, "buy", recommend(view("30"), 4000, 100))
	assert.Equal(t, "sell", recommend(view("50"), 4000, 100))
	assert.Equal(t, "hold", recommend(view("41"), 4000, 100))
	assert.Equal(t, "hold", recommend(view(""), 4000, 100))
	assert.Equal(t, "hold", recommend(view("30"), 4000, 0))
}
