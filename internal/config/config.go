// Package config loads the casework YAML configuration file.
//
// Every key is optional. Absent keys keep the defaults returned by Default,
// and command-line flags override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/casework/internal/engine"
	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/registry"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "casework.yaml"

// Config is the decoded configuration file.
type Config struct {
	Database     string                `yaml:"database"`
	Listen       string                `yaml:"listen"`
	Workers      int                   `yaml:"workers"`
	ArtifactsDir string                `yaml:"artifacts_dir"`
	Retry        Retry                 `yaml:"retry"`
	Tasks        map[string]TaskPolicy `yaml:"tasks"`
	Gate         Gate                  `yaml:"gate"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// Retry configures the backoff between attempts. Zero fields keep
// engine.DefaultBackoff.
type Retry struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	Jitter          *float64      `yaml:"jitter"`
}

// TaskPolicy overrides the registered policy of one task. Absent fields
// leave the registered value alone.
type TaskPolicy struct {
	Timeout    *time.Duration `yaml:"timeout"`
	MaxRetries *int           `yaml:"max_retries"`
	Required   *bool          `yaml:"required"`
	Soft       []string       `yaml:"soft"`
}

// Gate configures the consistency gate checklist.
type Gate struct {
	// Schema is inline CUE source; SchemaFile is read and appended to it.
	Schema     string `yaml:"schema"`
	SchemaFile string `yaml:"schema_file"`

	Required    []gate.FieldRule `yaml:"required"`
	Recommended []string         `yaml:"recommended"`
	Tolerance   float64          `yaml:"tolerance"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Database:     "casework.db",
		Listen:       "127.0.0.1:8080",
		Workers:      engine.DefaultWorkers,
		ArtifactsDir: "artifacts",
		Tasks:        map[string]TaskPolicy{},
	}
}

// Load reads path over the defaults. With optional set, a missing file
// yields the defaults instead of an error.
func Load(path string, optional bool) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Decode parses YAML over the defaults. Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Tasks == nil {
		cfg.Tasks = map[string]TaskPolicy{}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges the decoder cannot.
func (c Config) Validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	case c.Retry.InitialInterval < 0, c.Retry.MaxInterval < 0:
		return errors.New("retry intervals must not be negative")
	case c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1:
		return fmt.Errorf("retry.multiplier must be at least 1, got %g", c.Retry.Multiplier)
	case c.Retry.Jitter != nil && (*c.Retry.Jitter < 0 || *c.Retry.Jitter > 1):
		return fmt.Errorf("retry.jitter must be within [0, 1], got %g", *c.Retry.Jitter)
	case c.Gate.Tolerance < 0:
		return fmt.Errorf("gate.tolerance must not be negative, got %g", c.Gate.Tolerance)
	}
	for _, name := range c.taskNames() {
		p := c.Tasks[name]
		if p.Timeout != nil && *p.Timeout <= 0 {
			return fmt.Errorf("tasks.%s.timeout must be positive", name)
		}
		if p.MaxRetries != nil && *p.MaxRetries < 0 {
			return fmt.Errorf("tasks.%s.max_retries must not be negative", name)
		}
	}
	return nil
}

func (c Config) taskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Apply overrides the registered task policies. It must run before the
// registry is validated; unknown tasks surface as registry config errors.
func (c Config) Apply(reg *registry.Registry) error {
	for _, name := range c.taskNames() {
		p := c.Tasks[name]
		err := reg.Override(name, registry.Policy{
			Timeout:    p.Timeout,
			MaxRetries: p.MaxRetries,
			Required:   p.Required,
			Soft:       p.Soft,
		})
		if err != nil {
			return fmt.Errorf("apply config: %w", err)
		}
	}
	return nil
}

// Backoff returns the retry policy, starting from engine.DefaultBackoff.
func (c Config) Backoff() engine.Backoff {
	b := engine.DefaultBackoff
	if c.Retry.InitialInterval > 0 {
		b.InitialInterval = c.Retry.InitialInterval
	}
	if c.Retry.MaxInterval > 0 {
		b.MaxInterval = c.Retry.MaxInterval
	}
	if c.Retry.Multiplier >= 1 {
		b.Multiplier = c.Retry.Multiplier
	}
	if c.Retry.Jitter != nil {
		b.Jitter = *c.Retry.Jitter
	}
	return b
}

// GateConfig returns the gate checklist, reading the schema file if one is
// named.
func (c Config) GateConfig() (gate.Config, error) {
	schema := c.Gate.Schema
	if c.Gate.SchemaFile != "" {
		raw, err := os.ReadFile(c.Resolve(c.Gate.SchemaFile))
		if err != nil {
			return gate.Config{}, fmt.Errorf("read gate schema: %w", err)
		}
		schema += "\n" + string(raw)
	}
	return gate.Config{
		Required:    c.Gate.Required,
		Recommended: c.Gate.Recommended,
		Schema:      schema,
		Tolerance:   c.Gate.Tolerance,
	}, nil
}

// Resolve makes a relative path relative to the config file's directory.
func (c Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}
