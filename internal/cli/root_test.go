package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casework/internal/config"
	"github.com/roach88/casework/internal/jobs"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "casework", cmd.Use)
	assert.Contains(t, cmd.Long, "consistency")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "run", "jobs", "progress", "result", "validate", "generate", "tasks", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, config.DefaultPath, configFlag.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	paramFlag := runCmd.Flags().Lookup("param")
	require.NotNil(t, paramFlag)
	assert.Equal(t, "p", paramFlag.Shorthand)

	watchFlag := runCmd.Flags().Lookup("watch")
	require.NotNil(t, watchFlag)
	assert.Equal(t, "false", watchFlag.DefValue)
}

func TestGenerateCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	genCmd, _, err := cmd.Find([]string{"generate"})
	require.NoError(t, err)

	kindFlag := genCmd.Flags().Lookup("kind")
	require.NotNil(t, kindFlag)
	assert.Equal(t, "json", kindFlag.DefValue)
	require.NotNil(t, genCmd.Flags().Lookup("out"))
}

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	cmd.SetContext(t.Context())
	err := cmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "tasks")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "tasks")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTasks(t *testing.T) {
	out, err := execute(t, "--format", "json", "tasks")
	require.NoError(t, err)

	resp := decode(t, out)
	assert.Equal(t, "ok", resp.Status)
	data, _ := resp.Data.(map[string]any)
	assert.Equal(t, 8.0, data["total"])
	order, _ := data["order"].([]any)
	assert.Equal(t, "company_profile", order[0])
}

func TestTasks_ConfigOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casework.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  risk_assessment:\n    required: true\n    max_retries: 5\n"), 0o644))

	out, err := execute(t, "--config", path, "tasks")
	require.NoError(t, err)
	assert.Contains(t, out, "risk_assessment")
	assert.Contains(t, out, "retries=5")
	assert.Contains(t, out, "8 task runs per job")
}

func TestTasks_UnknownOverrideIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casework.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  ghost:\n    required: true\n"), 0o644))

	_, err := execute(t, "--config", path, "tasks")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"company=Acme", "note=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, "Acme", params["company"])
	assert.Equal(t, "a=b", params["note"])
	assert.Equal(t, "", params["empty"])

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func runOnce(t *testing.T, db string, id string, params ...string) (string, error) {
	t.Helper()
	root := &RootOptions{Format: "json", Database: db, Config: config.Default()}
	root.Config.ArtifactsDir = filepath.Join(filepath.Dir(db), "artifacts")
	opts := &RunOptions{RootOptions: root, Params: params, IDs: jobs.NewFixedGenerator(id)}

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(t.Context())
	err := runJob(opts, cmd)
	return out.String(), err
}

func TestRunThenInspect(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "casework.db")

	out, err := runOnce(t, db, "job-1", "company=Acme", "price=30")
	require.NoError(t, err)
	resp := decode(t, out)
	summary, _ := resp.Data.(map[string]any)
	assert.Equal(t, "job-1", summary["job_id"])
	assert.Equal(t, "COMPLETED", summary["status"])

	out, err = execute(t, "--db", db, "--format", "json", "result", "job-1")
	require.NoError(t, err)
	result, _ := decode(t, out).Data.(map[string]any)
	syn, _ := result["synthesized"].(map[string]any)
	assert.Equal(t, 4200.0, syn["enterprise_value"])

	out, err = execute(t, "--db", db, "progress", "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, "100%")

	out, err = execute(t, "--db", db, "validate", "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	outDir := filepath.Join(dir, "out")
	out, err = execute(t, "--db", db, "generate", "job-1", "--kind", "markdown", "--out", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(outDir, "job-1.md"))
	assert.FileExists(t, filepath.Join(outDir, "job-1.md"))

	out, err = execute(t, "--db", db, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "job-1")
}

func TestRunFailedJobExitsOne(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "casework.db")

	out, err := runOnce(t, db, "job-f")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	summary, _ := decode(t, out).Data.(map[string]any)
	assert.Equal(t, "FAILED", summary["status"])

	_, err = execute(t, "--db", db, "validate", "job-f")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	outDir := filepath.Join(dir, "out")
	out, err = execute(t, "--db", db, "--format", "json", "generate", "job-f", "--out", outDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decode(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidState, resp.Error.Code)
	assert.NoDirExists(t, outDir)
}

func TestResultUnknownJob(t *testing.T) {
	db := filepath.Join(t.TempDir(), "casework.db")
	out, err := execute(t, "--db", db, "--format", "json", "result", "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decode(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestGenerateUnknownKind(t *testing.T) {
	db := filepath.Join(t.TempDir(), "casework.db")
	_, err := execute(t, "--db", db, "generate", "job-1", "--kind", "pdf")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
