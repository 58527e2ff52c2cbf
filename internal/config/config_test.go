package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casework/internal/engine"
	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/task"
	"github.com/roach88/casework/internal/testutil"
)

const sample = `
database: data/jobs.db
listen: ":9090"
workers: 8
artifacts_dir: out
retry:
  initial_interval: 250ms
  max_interval: 5s
  multiplier: 3
  jitter: 0
tasks:
  market_research:
    timeout: 45s
    max_retries: 0
  dcf_valuation:
    soft: [financials]
  risk_assessment:
    required: true
gate:
  schema: |
    enterprise_value: <1e12
  required:
    - path: enterprise_value
      kind: number
    - path: company
      kind: string
  recommended: [recommendation]
  tolerance: 0.01
`

func TestDecode_Full(t *testing.T) {
	cfg, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "data/jobs.db", cfg.Database)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "out", cfg.ArtifactsDir)

	b := cfg.Backoff()
	assert.Equal(t, 250*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 5*time.Second, b.MaxInterval)
	assert.Equal(t, 3.0, b.Multiplier)
	assert.Equal(t, 0.0, b.Jitter)

	require.Contains(t, cfg.Tasks, "market_research")
	assert.Equal(t, 45*time.Second, *cfg.Tasks["market_research"].Timeout)
	assert.Equal(t, 0, *cfg.Tasks["market_research"].MaxRetries)

	gc, err := cfg.GateConfig()
	require.NoError(t, err)
	assert.Contains(t, gc.Schema, "enterprise_value: <1e12")
	assert.Len(t, gc.Required, 2)
	assert.Equal(t, []string{"recommendation"}, gc.Recommended)
	assert.Equal(t, 0.01, gc.Tolerance)
}

func TestDecode_EmptyIsDefault(t *testing.T) {
	cfg, err := Decode(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, engine.DefaultBackoff, cfg.Backoff())
}

func TestDecode_UnknownKeyRejected(t *testing.T) {
	_, err := Decode(strings.NewReader("wokers: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wokers")
}

func TestDecode_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative workers", "workers: -1", "workers"},
		{"multiplier below one", "retry: {multiplier: 0.5}", "multiplier"},
		{"jitter above one", "retry: {jitter: 1.5}", "jitter"},
		{"zero timeout", "tasks: {a: {timeout: 0s}}", "tasks.a.timeout"},
		{"negative retries", "tasks: {a: {max_retries: -2}}", "tasks.a.max_retries"},
		{"bad duration", "retry: {initial_interval: soon}", "time.Duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(path, false)
	assert.Error(t, err)
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.cue"), []byte("company: =~\"^[A-Z]\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "casework.yaml"),
		[]byte("database: jobs.db\ngate:\n  schema_file: extra.cue\n"), 0o644))

	cfg, err := Load(filepath.Join(dir, "casework.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "jobs.db"), cfg.Resolve(cfg.Database))
	assert.Equal(t, "/abs/x.db", cfg.Resolve("/abs/x.db"))

	gc, err := cfg.GateConfig()
	require.NoError(t, err)
	assert.Contains(t, gc.Schema, `company: =~"^[A-Z]"`)
}

func TestApply_OverridesPolicies(t *testing.T) {
	reg := registry.New()
	agent := testutil.NewScriptedAgent()
	require.NoError(t, reg.Register(registry.Def{Name: "financials", Required: true, Agent: agent}))
	require.NoError(t, reg.Register(registry.Def{Name: "market_research", Agent: agent}))
	require.NoError(t, reg.Register(registry.Def{Name: "dcf_valuation", Required: true,
		Deps: []registry.Dep{registry.Hard("financials"), registry.Soft("market_research")}, Agent: agent}))
	require.NoError(t, reg.Register(registry.Def{Name: "risk_assessment", Agent: agent}))
	require.NoError(t, reg.SetSynthesis(registry.Def{Agent: agent}))

	cfg, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(reg))
	require.NoError(t, reg.Validate())

	mr, _ := reg.Get("market_research")
	assert.Equal(t, 45*time.Second, mr.AttemptTimeout())
	assert.Equal(t, 0, mr.Retries())

	risk, _ := reg.Get("risk_assessment")
	assert.True(t, risk.Required)

	assert.False(t, reg.IsHard("dcf_valuation", "financials"))
}

func TestApply_UnknownTask(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.SetSynthesis(registry.Def{Agent: testutil.NewScriptedAgent()}))

	cfg, err := Decode(strings.NewReader("tasks: {ghost: {required: true}}"))
	require.NoError(t, err)

	err = cfg.Apply(reg)
	require.Error(t, err)
	assert.Equal(t, registry.KindUnknownTask, registry.KindOf(err))
}

func TestApply_SynthesisTimeout(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.SetSynthesis(registry.Def{Agent: testutil.NewScriptedAgent()}))

	cfg, err := Decode(strings.NewReader("tasks: {" + task.SynthesisName + ": {timeout: 3m}}"))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(reg))
	require.NoError(t, reg.Validate())

	syn, ok := reg.Synthesis()
	require.True(t, ok)
	assert.Equal(t, 3*time.Minute, syn.AttemptTimeout())
}
