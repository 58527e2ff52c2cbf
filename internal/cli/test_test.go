package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

func decodeTestResult(t *testing.T, out string) TestResult {
	t.Helper()
	resp := decode(t, out)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result TestResult
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func TestTestCommand_HarnessScenariosPass(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err, out)

	result := decodeTestResult(t, out)
	assert.Positive(t, result.Total)
	assert.Equal(t, result.Total, result.Passed)
	for _, sr := range result.Scenarios {
		assert.Equal(t, "match", sr.Golden, sr.Name)
	}
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(t, "--format", "json", "test", harnessScenarios,
		"--golden", harnessGolden, "--filter", "retry*")
	require.NoError(t, err, out)

	result := decodeTestResult(t, out)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "retry_then_succeed", result.Scenarios[0].Name)
}

func TestTestCommand_UpdateThenMismatch(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0o755))
	content := `
name: single
description: "One task"
tasks:
  - name: a
    required: true
    steps:
      - data: { value: 2 }
synthesis:
  sum: value
expect:
  status: COMPLETED
`
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "single.yaml"), []byte(content), 0o644))

	out, err := execute(t, "--format", "json", "test", scenarios)
	require.NoError(t, err, out)
	assert.Equal(t, "missing", decodeTestResult(t, out).Scenarios[0].Golden)

	out, err = execute(t, "--format", "json", "test", scenarios, "--update")
	require.NoError(t, err, out)
	assert.Equal(t, "updated", decodeTestResult(t, out).Scenarios[0].Golden)
	golden := filepath.Join(root, "golden", "single.golden")
	require.FileExists(t, golden)

	out, err = execute(t, "--format", "json", "test", scenarios)
	require.NoError(t, err, out)
	assert.Equal(t, "match", decodeTestResult(t, out).Scenarios[0].Golden)

	require.NoError(t, os.WriteFile(golden, []byte(`{}`), 0o644))
	out, err = execute(t, "--format", "json", "test", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	result := decodeTestResult(t, out)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "mismatch", result.Scenarios[0].Golden)
}

func TestTestCommand_FailingExpectation(t *testing.T) {
	dir := t.TempDir()
	content := `
name: wrong
description: "Expects the wrong status"
tasks:
  - name: a
    steps:
      - data: {}
expect:
  status: FAILED
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(content), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "status: expected FAILED, got COMPLETED")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
