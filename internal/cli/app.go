package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/casework/internal/artifact"
	"github.com/roach88/casework/internal/engine"
	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/jobs"
	"github.com/roach88/casework/internal/pipeline"
	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/store"
)

// app is the assembled core behind every command that touches jobs.
type app struct {
	db       *store.Store
	reg      *registry.Registry
	jobs     *jobs.Manager
	engine   *engine.Engine
	artifact string
}

// buildRegistry registers the demo catalog and applies config overrides.
func buildRegistry(opts *RootOptions) (*registry.Registry, error) {
	reg := registry.New()
	if err := pipeline.Register(reg, pipeline.WithStepDelay(opts.StepDelay)); err != nil {
		return nil, err
	}
	if err := opts.Config.Apply(reg); err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// openApp wires store, registry, state, progress, engine, gate and job
// manager from the loaded config.
func openApp(opts *RootOptions, jopts ...jobs.Option) (*app, error) {
	cfg := opts.Config
	reg, err := buildRegistry(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid task registry", err)
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Resolve(cfg.Database)
	}
	slog.Debug("opening database", "path", dbPath)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	states := state.New(db, reg)
	bc := progress.NewBroadcaster(db, reg)
	eng, err := engine.New(reg, states, bc,
		engine.WithWorkers(cfg.Workers),
		engine.WithBackoff(cfg.Backoff()))
	if err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	gcfg, err := cfg.GateConfig()
	if err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "invalid gate config", err)
	}
	g, err := gate.New(states, gcfg)
	if err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "invalid gate schema", err)
	}
	m, err := jobs.New(jobs.Config{
		Store: db, Registry: reg, States: states, Progress: bc, Engine: eng, Gate: g,
	}, jopts...)
	if err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create job manager", err)
	}
	return &app{db: db, reg: reg, jobs: m, engine: eng, artifact: cfg.Resolve(cfg.ArtifactsDir)}, nil
}

// generator returns the artifact generator for kind, writing into dir or the
// configured artifacts directory.
func (a *app) generator(kind, dir string) (artifact.Generator, error) {
	if dir == "" {
		dir = a.artifact
	}
	switch kind {
	case "json":
		return artifact.NewJSON(dir), nil
	case "markdown", "md":
		return artifact.NewMarkdown(dir), nil
	}
	return nil, fmt.Errorf("unknown artifact kind %q (json|markdown)", kind)
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
