package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/task"
)

func parse(t *testing.T, content string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	return s
}

func TestRun_OwnershipViolationFailsTask(t *testing.T) {
	s := parse(t, `
name: ownership
description: "A task writing another task's section fails without retries"
tasks:
  - name: a
    required: true
    steps:
      - data: { value: 1 }
  - name: b
    deps: [a]
    steps:
      - data: { value: 2 }
        section: a
synthesis:
  sum: value
expect:
  status: PARTIAL
  tasks:
    b: { status: FAILED, attempts: 1 }
  synthesized: { enterprise_value: 1 }
`)
	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.NotEmpty(t, result.Outcome.Runs["b"].Error)
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s := parse(t, `
name: mismatch
description: "Expectations that do not hold are reported, not fatal"
tasks:
  - name: a
    steps:
      - data: { value: 4 }
synthesis:
  sum: value
expect:
  status: FAILED
  tasks:
    a: { status: COMPLETED, attempts: 2 }
  valid: false
  synthesized: { enterprise_value: 5, company: Acme }
`)
	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, []string{
		"status: expected FAILED, got COMPLETED",
		"tasks.a.attempts: expected 2, got 1",
		"valid: expected false, got true (0 issues)",
		"synthesized.company: expected \"Acme\", got missing",
		"synthesized.enterprise_value: expected 5, got 4",
	}, result.Errors)
	assert.Equal(t, task.JobCompleted, result.Outcome.Status)
}

func TestRun_InvalidCatalog(t *testing.T) {
	s := parse(t, `
name: cycle
description: "A dependency cycle is a configuration error"
tasks:
  - name: a
    deps: [b]
    steps: [{ data: {} }]
  - name: b
    deps: [a]
    steps: [{ data: {} }]
expect:
  status: COMPLETED
`)
	_, err := Run(t.Context(), s)
	require.Error(t, err)
	assert.True(t, registry.IsConfigError(err))
}

func TestBuildRegistry(t *testing.T) {
	s := parse(t, `
name: catalog
description: "Policies reach the registry"
tasks:
  - name: a
    required: true
    max_retries: 4
    steps: [{ data: {} }]
  - name: b
    deps: [a]
    soft: [c]
    max_retries: 0
    timeout: 2s
    only_if: { analysis_type: full }
    fallback: { value: 1 }
    steps: [{ data: {} }]
  - name: c
    steps: [{ data: {} }]
expect:
  status: COMPLETED
`)
	reg, err := BuildRegistry(s)
	require.NoError(t, err)
	assert.True(t, reg.Validated())
	assert.Equal(t, []string{"a", "b", "c", task.SynthesisName}, reg.AllNames())

	a, _ := reg.Get("a")
	assert.True(t, a.Required)
	assert.Equal(t, 4, a.Retries())

	b, _ := reg.Get("b")
	assert.Equal(t, 0, b.Retries())

	c, _ := reg.Get("c")
	assert.Equal(t, registry.DefaultMaxRetries, c.Retries(), "absent max_retries keeps the default")
	assert.Equal(t, "2s", b.AttemptTimeout().String())
	assert.True(t, reg.IsHard("b", "a"))
	assert.False(t, reg.IsHard("b", "c"))
	assert.True(t, b.IsApplicable(task.Params{"analysis_type": "full"}))
	assert.False(t, b.IsApplicable(task.Params{"analysis_type": "quick"}))
	assert.Equal(t, 1, b.Fallback["value"])
}
