package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/task"
)

// Scenario is one scripted job run and its expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the job
	// ("job-<name>") and the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Params are the job parameters.
	Params task.Params `yaml:"params,omitempty"`

	// Tasks is the catalog, in registration order.
	Tasks []TaskSpec `yaml:"tasks"`

	Synthesis SynthesisSpec `yaml:"synthesis"`

	// Gate overrides the checklist. Recommended fields default to none so
	// outcomes only carry the issues a scenario asks for.
	Gate *GateSpec `yaml:"gate,omitempty"`

	Expect Expectation `yaml:"expect"`
}

// TaskSpec declares one task and scripts its agent.
type TaskSpec struct {
	Name     string   `yaml:"name"`
	Required bool     `yaml:"required,omitempty"`
	Deps     []string `yaml:"deps,omitempty"`
	Soft     []string `yaml:"soft,omitempty"`

	// MaxRetries defaults to registry.DefaultMaxRetries when absent.
	MaxRetries *int          `yaml:"max_retries,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`

	// OnlyIf makes the task applicable only when every listed param has
	// the given value.
	OnlyIf map[string]string `yaml:"only_if,omitempty"`

	Fallback map[string]any `yaml:"fallback,omitempty"`

	Steps []StepSpec `yaml:"steps"`
}

// StepSpec scripts one attempt. Exactly one of Data, Fail, Permanent or
// Hang must be set.
type StepSpec struct {
	Data map[string]any `yaml:"data,omitempty"`

	// Section redirects Data to another section (an ownership violation).
	Section string `yaml:"section,omitempty"`

	// Fail returns a retryable error with this message.
	Fail string `yaml:"fail,omitempty"`

	// Permanent returns a non-retryable error with this message.
	Permanent string `yaml:"permanent,omitempty"`

	// Hang blocks until the attempt deadline passes.
	Hang bool `yaml:"hang,omitempty"`
}

// SynthesisSpec scripts the synthesis step.
type SynthesisSpec struct {
	// Sum names the numeric field totalled into enterprise_value. Empty
	// leaves enterprise_value out.
	Sum string `yaml:"sum,omitempty"`

	// Fields are copied into the synthesized section as they are.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// GateSpec selects the consistency checklist.
type GateSpec struct {
	Required    []gate.FieldRule `yaml:"required,omitempty"`
	Recommended []string         `yaml:"recommended,omitempty"`
	Schema      string           `yaml:"schema,omitempty"`
}

// Expectation is the outcome a scenario asserts. Only what is listed is
// checked.
type Expectation struct {
	Status task.JobStatus `yaml:"status"`

	// Message must be contained in the job message.
	Message string `yaml:"message,omitempty"`

	Tasks map[string]TaskExpect `yaml:"tasks,omitempty"`

	// Valid is the expected gate verdict.
	Valid *bool `yaml:"valid,omitempty"`

	// Synthesized is a subset match against the synthesized section.
	Synthesized map[string]any `yaml:"synthesized,omitempty"`
}

// TaskExpect is the expected final run of one task.
type TaskExpect struct {
	Status   task.Status `yaml:"status"`
	Attempts *int        `yaml:"attempts,omitempty"`
	Reason   string      `yaml:"reason,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "step:" vs "steps:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, ordered by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario %q already defined in %s", filepath.Base(p), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(p)
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Tasks) == 0 {
		return errors.New("tasks list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Tasks))
	for i, t := range s.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		if names[t.Name] {
			return fmt.Errorf("tasks[%d]: duplicate task %q", i, t.Name)
		}
		names[t.Name] = true
		if len(t.Steps) == 0 {
			return fmt.Errorf("tasks[%d] %s: steps list is required and must be non-empty", i, t.Name)
		}
		for j, step := range t.Steps {
			if err := validateStep(step); err != nil {
				return fmt.Errorf("tasks[%d] %s: steps[%d]: %w", i, t.Name, j, err)
			}
		}
	}

	if !s.Expect.Status.IsTerminal() {
		return fmt.Errorf("expect.status must be COMPLETED, PARTIAL or FAILED, got %q", s.Expect.Status)
	}
	for name, te := range s.Expect.Tasks {
		if name != task.SynthesisName && !names[name] {
			return fmt.Errorf("expect.tasks: unknown task %q", name)
		}
		if !te.Status.Valid() {
			return fmt.Errorf("expect.tasks.%s: invalid status %q", name, te.Status)
		}
	}
	return nil
}

func validateStep(step StepSpec) error {
	set := 0
	if step.Data != nil {
		set++
	}
	if step.Fail != "" {
		set++
	}
	if step.Permanent != "" {
		set++
	}
	if step.Hang {
		set++
	}
	switch {
	case set != 1:
		return errors.New("exactly one of data, fail, permanent or hang is required")
	case step.Section != "" && step.Data == nil:
		return errors.New("section requires data")
	}
	return nil
}
