package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casework/internal/task"
)

const minimalScenario = `
name: minimal
description: "One task"
tasks:
  - name: a
    steps:
      - data: { value: 1 }
expect:
  status: COMPLETED
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "full.yaml")
	content := `
name: full
description: "Every field"
params:
  company: Acme
tasks:
  - name: profile
    required: true
    timeout: 50ms
    max_retries: 1
    steps:
      - fail: "rate limited"
      - data: { value: 10 }
  - name: valuation
    deps: [profile]
    soft: [market]
    max_retries: 0
    only_if: { analysis_type: full }
    fallback: { value: 0 }
    steps:
      - hang: true
      - permanent: "bad input"
      - data: { value: 1 }
        section: profile
  - name: market
    steps:
      - data: {}
synthesis:
  sum: value
  fields: { recommendation: buy }
gate:
  required:
    - { path: enterprise_value, kind: number }
  recommended: [company]
expect:
  status: PARTIAL
  message: "optional"
  tasks:
    profile: { status: COMPLETED, attempts: 2 }
    synthesized: { status: COMPLETED }
  valid: true
  synthesized: { enterprise_value: 10 }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "full", s.Name)
	assert.Equal(t, task.Params{"company": "Acme"}, s.Params)
	require.Len(t, s.Tasks, 3)

	profile := s.Tasks[0]
	assert.True(t, profile.Required)
	assert.Equal(t, 50*time.Millisecond, profile.Timeout)
	require.NotNil(t, profile.MaxRetries)
	assert.Equal(t, 1, *profile.MaxRetries)
	assert.Equal(t, "rate limited", profile.Steps[0].Fail)

	valuation := s.Tasks[1]
	assert.Equal(t, []string{"profile"}, valuation.Deps)
	assert.Equal(t, []string{"market"}, valuation.Soft)
	require.NotNil(t, valuation.MaxRetries)
	assert.Equal(t, 0, *valuation.MaxRetries)
	assert.Nil(t, s.Tasks[2].MaxRetries)
	assert.Equal(t, map[string]string{"analysis_type": "full"}, valuation.OnlyIf)
	assert.True(t, valuation.Steps[0].Hang)
	assert.Equal(t, "bad input", valuation.Steps[1].Permanent)
	assert.Equal(t, "profile", valuation.Steps[2].Section)

	assert.NotNil(t, s.Tasks[2].Steps[0].Data, "an empty data map still scripts a success")

	assert.Equal(t, "value", s.Synthesis.Sum)
	assert.Equal(t, "buy", s.Synthesis.Fields["recommendation"])
	require.NotNil(t, s.Gate)
	assert.Equal(t, "enterprise_value", s.Gate.Required[0].Path)
	assert.Equal(t, []string{"company"}, s.Gate.Recommended)

	assert.Equal(t, task.JobPartial, s.Expect.Status)
	require.NotNil(t, s.Expect.Tasks["profile"].Attempts)
	assert.Equal(t, 2, *s.Expect.Tasks["profile"].Attempts)
	assert.Nil(t, s.Expect.Tasks["synthesized"].Attempts)
	require.NotNil(t, s.Expect.Valid)
	assert.True(t, *s.Expect.Valid)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: x\ntasks: [{name: a, steps: [{data: {}}]}]\nexpect: {status: COMPLETED}\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: x\ntasks: [{name: a, steps: [{data: {}}]}]\nexpect: {status: COMPLETED}\n",
			wantErr: "description is required",
		},
		{
			name:    "no tasks",
			content: "name: x\ndescription: x\nexpect: {status: COMPLETED}\n",
			wantErr: "tasks list is required",
		},
		{
			name:    "duplicate task",
			content: "name: x\ndescription: x\ntasks: [{name: a, steps: [{data: {}}]}, {name: a, steps: [{data: {}}]}]\nexpect: {status: COMPLETED}\n",
			wantErr: `duplicate task "a"`,
		},
		{
			name:    "no steps",
			content: "name: x\ndescription: x\ntasks: [{name: a}]\nexpect: {status: COMPLETED}\n",
			wantErr: "steps list is required",
		},
		{
			name:    "two outcomes in one step",
			content: "name: x\ndescription: x\ntasks: [{name: a, steps: [{fail: f, hang: true}]}]\nexpect: {status: COMPLETED}\n",
			wantErr: "exactly one of data, fail, permanent or hang",
		},
		{
			name:    "empty step",
			content: "name: x\ndescription: x\ntasks: [{name: a, steps: [{}]}]\nexpect: {status: COMPLETED}\n",
			wantErr: "exactly one of data, fail, permanent or hang",
		},
		{
			name:    "section without data",
			content: "name: x\ndescription: x\ntasks: [{name: a, steps: [{fail: f, section: b}]}]\nexpect: {status: COMPLETED}\n",
			wantErr: "section requires data",
		},
		{
			name:    "non-terminal expected status",
			content: "name: x\ndescription: x\ntasks: [{name: a, steps: [{data: {}}]}]\nexpect: {status: RUNNING}\n",
			wantErr: "expect.status",
		},
		{
			name:    "unknown expected task",
			content: "name: x\ndescription: x\ntasks: [{name: a, steps: [{data: {}}]}]\nexpect: {status: COMPLETED, tasks: {z: {status: COMPLETED}}}\n",
			wantErr: `unknown task "z"`,
		},
		{
			name:    "invalid expected task status",
			content: "name: x\ndescription: x\ntasks: [{name: a, steps: [{data: {}}]}]\nexpect: {status: COMPLETED, tasks: {a: {status: DONE}}}\n",
			wantErr: `invalid status "DONE"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(minimalScenario), 0o644))
	second := "name: second\ndescription: x\ntasks: [{name: a, steps: [{data: {}}]}]\nexpect: {status: COMPLETED}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(second), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "second", scenarios[0].Name, "ordered by file name")
	assert.Equal(t, "minimal", scenarios[1].Name)
}

func TestLoadDir_DuplicateName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(minimalScenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(minimalScenario), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario "minimal" already defined in a.yaml`)
}
