package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario, requires its expectations to pass and
// compares the canonical outcome against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}
	AssertGolden(t, scenario.Name, result.Outcome)
	return result
}

// AssertGolden compares an outcome against a golden file without re-running
// the scenario.
func AssertGolden(t *testing.T, name string, outcome *Outcome) {
	t.Helper()

	raw, err := outcome.Canonical()
	if err != nil {
		t.Fatalf("canonical outcome %s: %v", name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, raw)
}
