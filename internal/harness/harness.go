package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/casework/internal/engine"
	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/jobs"
	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/store"
	"github.com/roach88/casework/internal/task"
	"github.com/roach88/casework/internal/testutil"
)

// retryBackoff keeps scripted retries fast.
var retryBackoff = engine.Backoff{
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
}

// Run executes a scenario and checks its expectations.
//
// Each scenario runs in a fresh in-memory database with a step clock and a
// fixed job id, so identical scenarios produce identical outcomes. An error
// means the scenario could not run at all (bad catalog, storage failure);
// unmet expectations are reported through Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	reg, err := BuildRegistry(scenario)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewStepClock(time.Millisecond)
	states := state.New(st, reg, state.WithClock(clock.Now))
	bc := progress.NewBroadcaster(st, reg, progress.WithClock(clock.Now))
	eng, err := engine.New(reg, states, bc,
		engine.WithBackoff(retryBackoff),
		engine.WithClock(clock.Now))
	if err != nil {
		return nil, err
	}
	g, err := gate.New(states, gateConfig(scenario.Gate))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	m, err := jobs.New(jobs.Config{
		Store: st, Registry: reg, States: states, Progress: bc, Engine: eng, Gate: g,
	}, jobs.WithIDGenerator(jobs.NewFixedGenerator("job-"+scenario.Name)))
	if err != nil {
		return nil, err
	}
	defer m.Shutdown(context.WithoutCancel(ctx))

	id, err := m.Start(ctx, scenario.Params)
	if err != nil {
		return nil, err
	}
	if _, err := m.Wait(ctx, id); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	res, err := m.Result(ctx, id)
	if err != nil {
		return nil, err
	}
	report, err := m.Validate(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Scenario:    scenario.Name,
		JobID:       id,
		Status:      res.Status,
		Message:     res.Message,
		Runs:        res.Runs,
		Synthesized: res.Synthesized,
		Report:      report,
	}
	result := NewResult(out)
	for _, msg := range CheckExpectations(out, scenario.Expect) {
		result.AddError(msg)
	}
	return result, nil
}

// BuildRegistry turns the scenario's task list into a validated registry
// whose agents replay the scripted steps.
func BuildRegistry(s *Scenario) (*registry.Registry, error) {
	reg := registry.New()
	for _, ts := range s.Tasks {
		def := registry.Def{
			Name:       ts.Name,
			Required:   ts.Required,
			MaxRetries: registry.DefaultMaxRetries,
			Timeout:    ts.Timeout,
			Agent:      testutil.NewScriptedAgent(scriptSteps(ts.Steps)...),
		}
		if ts.MaxRetries != nil {
			def.MaxRetries = *ts.MaxRetries
		}
		for _, d := range ts.Deps {
			def.Deps = append(def.Deps, registry.Hard(d))
		}
		for _, d := range ts.Soft {
			def.Deps = append(def.Deps, registry.Soft(d))
		}
		if ts.Fallback != nil {
			def.Fallback = section.Data(ts.Fallback)
		}
		if len(ts.OnlyIf) > 0 {
			want := ts.OnlyIf
			def.Applies = func(p task.Params) bool {
				for k, v := range want {
					if p[k] != v {
						return false
					}
				}
				return true
			}
		}
		if err := reg.Register(def); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
		}
	}
	if err := reg.SetSynthesis(registry.Def{MaxRetries: registry.DefaultMaxRetries, Agent: synthesizer(s.Synthesis)}); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return reg, nil
}

func scriptSteps(specs []StepSpec) []testutil.Step {
	steps := make([]testutil.Step, 0, len(specs))
	for _, sp := range specs {
		switch {
		case sp.Hang:
			steps = append(steps, testutil.Hang())
		case sp.Fail != "":
			steps = append(steps, testutil.Fail(errors.New(sp.Fail)))
		case sp.Permanent != "":
			steps = append(steps, testutil.Fail(task.Permanent(errors.New(sp.Permanent))))
		default:
			steps = append(steps, testutil.Step{Data: section.Data(sp.Data), Section: sp.Section})
		}
	}
	return steps
}

// synthesizer totals spec.Sum over every visible section.
func synthesizer(spec SynthesisSpec) task.Agent {
	return task.AgentFunc(func(_ context.Context, v task.View) (task.Result, error) {
		out := section.Data{}
		if spec.Sum != "" {
			total := 0.0
			for _, name := range v.Names() {
				if name == task.SynthesisName {
					continue
				}
				d, _ := v.Section(name)
				if n, ok := section.Number(d[spec.Sum]); ok {
					total += n
				}
			}
			out["enterprise_value"] = total
		}
		for k, val := range spec.Fields {
			out[k] = val
		}
		return task.Result{Data: out}, nil
	})
}

func gateConfig(spec *GateSpec) gate.Config {
	cfg := gate.Config{Recommended: []string{}}
	if spec == nil {
		return cfg
	}
	cfg.Required = spec.Required
	if spec.Recommended != nil {
		cfg.Recommended = spec.Recommended
	}
	cfg.Schema = spec.Schema
	return cfg
}
