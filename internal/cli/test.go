package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/casework/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern on the file name)
	GoldenDir string // defaults to a "golden" directory next to the scenarios
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated", "missing" or "mismatch"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scripted job scenarios",
		Long: `Run scripted job scenarios against the scheduler.

Each scenario runs one job in a fresh in-memory database and checks its
expectations. When a golden file exists for the scenario its canonical
outcome must match it too.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  casework test ./testdata/scenarios
  casework test ./testdata/scenarios --filter "retry*"
  casework test ./testdata/scenarios --update`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (default <scenarios-dir>/../golden)")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, dir string) error {
	formatter := opts.formatter(cmd)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(dir)), "golden")
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "find scenarios", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		sr := runScenario(cmd, opts, file, goldenDir)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if err := formatter.Render(result, func(w io.Writer) { renderTestResult(w, result) }); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// findScenarioFiles lists the YAML files directly inside dir, sorted.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	if filter == "" {
		return files, nil
	}
	var out []string
	for _, f := range files {
		base := filepath.Base(f)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		matched, err := filepath.Match(filter, name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			out = append(out, f)
		}
	}
	return out, nil
}

func runScenario(cmd *cobra.Command, opts *TestOptions, file, goldenDir string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return ScenarioResult{Name: filepath.Base(file), Errors: []string{err.Error()}}
	}
	opts.formatter(cmd).VerboseLog("running %s", scenario.Name)

	res, err := harness.Run(cmd.Context(), scenario)
	if err != nil {
		return ScenarioResult{Name: scenario.Name, Errors: []string{fmt.Sprintf("execution failed: %v", err)}}
	}
	sr := ScenarioResult{Name: scenario.Name, Pass: res.Pass, Errors: res.Errors}

	raw, err := res.Outcome.Canonical()
	if err != nil {
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("canonical outcome: %v", err))
		return sr
	}
	path := filepath.Join(goldenDir, scenario.Name+".golden")

	if opts.Update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
			return sr
		}
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to write golden file: %v", err))
			return sr
		}
		sr.Golden = "updated"
		return sr
	}

	want, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		sr.Golden = "missing"
	case err != nil:
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("failed to read golden file: %v", err))
	case bytes.Equal(want, raw):
		sr.Golden = "match"
	default:
		sr.Golden = "mismatch"
		sr.Pass = false
		sr.Errors = append(sr.Errors, "outcome does not match golden file (run with --update to regenerate)")
	}
	return sr
}

func renderTestResult(w io.Writer, result TestResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, sr := range result.Scenarios {
		mark := goodStyle.Render("✓")
		if !sr.Pass {
			mark = badStyle.Render("✗")
		}
		line := fmt.Sprintf("%s %s", mark, sr.Name)
		if sr.Golden != "" && sr.Golden != "match" {
			line += dimStyle.Render(" (golden " + sr.Golden + ")")
		}
		fmt.Fprintln(w, line)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
}
