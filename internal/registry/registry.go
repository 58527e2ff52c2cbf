package registry

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// Default policy values. DefaultTimeout applies when a Def leaves Timeout at
// zero; DefaultMaxRetries is what catalogs use when they have no opinion.
const (
	DefaultTimeout    = 2 * time.Minute
	DefaultMaxRetries = 2
)

// Dep is one dependency edge.
type Dep struct {
	Name string
	Soft bool
}

// Hard declares a hard dependency.
func Hard(name string) Dep { return Dep{Name: name} }

// Soft declares a soft dependency.
func Soft(name string) Dep { return Dep{Name: name, Soft: true} }

// Def is the static definition of one task.
type Def struct {
	// Name is both the task name and the section it owns.
	Name string

	Deps     []Dep
	Required bool

	// Timeout bounds a single attempt. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt. Zero
	// means a single attempt; negative values are invalid.
	MaxRetries int

	// Applies decides once per job whether the task runs at all. Nil means
	// always applicable.
	Applies func(task.Params) bool

	// Fallback is substituted for this task's section in downstream views
	// when the task did not complete.
	Fallback section.Data

	Agent task.Agent
}

// Retries returns the effective retry count.
func (d Def) Retries() int {
	return max(d.MaxRetries, 0)
}

// AttemptTimeout returns the effective per-attempt timeout.
func (d Def) AttemptTimeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

// IsApplicable evaluates the applicability predicate.
func (d Def) IsApplicable(p task.Params) bool {
	return d.Applies == nil || d.Applies(p)
}

// Policy is a configuration override for a registered task. Nil fields leave
// the registered value alone.
type Policy struct {
	Timeout    *time.Duration
	MaxRetries *int
	Required   *bool

	// Soft turns the named existing dependencies into soft edges.
	Soft []string
}

// Registry is the task catalog. It is safe for concurrent reads once
// validated.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	defs      map[string]*Def
	synthesis *Def
	pending   []*ConfigError
	validated bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{defs: make(map[string]*Def)}
}

// Register adds a task definition.
//
// Structural problems that can be seen immediately (empty or reserved name,
// duplicate) are returned here. Unknown dependencies are only reported by
// Validate since they may be registered later.
func (r *Registry) Register(def Def) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.validated {
		return &ConfigError{Kind: KindFrozen, Task: def.Name, Message: "registry already validated"}
	}
	if def.Name == "" {
		return &ConfigError{Kind: KindInvalidPolicy, Message: "task name is empty"}
	}
	if def.Name == task.SynthesisName {
		return &ConfigError{Kind: KindReservedName, Task: def.Name,
			Message: fmt.Sprintf("%q is reserved for the synthesis step", def.Name)}
	}
	if _, dup := r.defs[def.Name]; dup {
		return &ConfigError{Kind: KindDuplicate, Task: def.Name,
			Message: fmt.Sprintf("task %q registered twice", def.Name)}
	}

	d := def
	d.Deps = slices.Clone(def.Deps)
	r.defs[d.Name] = &d
	r.order = append(r.order, d.Name)
	return nil
}

// MustRegister is Register that panics, for static catalogs.
func (r *Registry) MustRegister(def Def) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// SetSynthesis registers the synthesis step. Its name is forced to the
// reserved section name and it depends on every task.
func (r *Registry) SetSynthesis(def Def) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.validated {
		return &ConfigError{Kind: KindFrozen, Task: task.SynthesisName, Message: "registry already validated"}
	}
	if r.synthesis != nil {
		return &ConfigError{Kind: KindDuplicate, Task: task.SynthesisName, Message: "synthesis step registered twice"}
	}
	d := def
	d.Name = task.SynthesisName
	d.Deps = nil
	d.Required = true
	d.Applies = nil
	r.synthesis = &d
	return nil
}

// Override applies a configuration policy to a registered task, or to the
// synthesis step when name is "synthesized".
func (r *Registry) Override(name string, p Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.validated {
		return &ConfigError{Kind: KindFrozen, Task: name, Message: "registry already validated"}
	}
	d := r.defs[name]
	if name == task.SynthesisName {
		d = r.synthesis
	}
	if d == nil {
		return &ConfigError{Kind: KindUnknownTask, Task: name,
			Message: fmt.Sprintf("override for unknown task %q", name)}
	}

	if p.Timeout != nil {
		d.Timeout = *p.Timeout
	}
	if p.MaxRetries != nil {
		d.MaxRetries = *p.MaxRetries
	}
	if p.Required != nil && name != task.SynthesisName {
		d.Required = *p.Required
	}
	for _, soft := range p.Soft {
		i := slices.IndexFunc(d.Deps, func(dep Dep) bool { return dep.Name == soft })
		if i < 0 {
			r.pending = append(r.pending, &ConfigError{Kind: KindUnknownDependency, Task: name,
				Message: fmt.Sprintf("override marks %q soft but %s does not depend on it", soft, name)})
			continue
		}
		d.Deps[i].Soft = true
	}
	return nil
}

// Validate checks the whole catalog. It returns the first problem found in
// a deterministic order: pending override problems, per-task checks in
// declaration order, the synthesis step, then cycles.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) > 0 {
		return r.pending[0]
	}
	for _, name := range r.order {
		d := r.defs[name]
		if d.Agent == nil {
			return &ConfigError{Kind: KindMissingAgent, Task: name, Message: fmt.Sprintf("task %q has no agent", name)}
		}
		if d.MaxRetries < 0 {
			return &ConfigError{Kind: KindInvalidPolicy, Task: name,
				Message: fmt.Sprintf("task %q has negative max_retries %d", name, d.MaxRetries)}
		}
		if d.Timeout < 0 {
			return &ConfigError{Kind: KindInvalidPolicy, Task: name,
				Message: fmt.Sprintf("task %q has negative timeout %s", name, d.Timeout)}
		}
		seen := make(map[string]bool, len(d.Deps))
		for _, dep := range d.Deps {
			if dep.Name == task.SynthesisName {
				return &ConfigError{Kind: KindReservedName, Task: name,
					Message: fmt.Sprintf("task %q cannot depend on the synthesis step", name)}
			}
			if _, ok := r.defs[dep.Name]; !ok {
				return &ConfigError{Kind: KindUnknownDependency, Task: name,
					Message: fmt.Sprintf("task %q depends on unknown task %q", name, dep.Name)}
			}
			if seen[dep.Name] {
				return &ConfigError{Kind: KindDuplicate, Task: name,
					Message: fmt.Sprintf("task %q lists dependency %q twice", name, dep.Name)}
			}
			seen[dep.Name] = true
		}
	}
	if r.synthesis == nil {
		return &ConfigError{Kind: KindMissingSynthesis, Task: task.SynthesisName, Message: "no synthesis step registered"}
	}
	if r.synthesis.Agent == nil {
		return &ConfigError{Kind: KindMissingAgent, Task: task.SynthesisName, Message: "synthesis step has no agent"}
	}
	if r.synthesis.MaxRetries < 0 || r.synthesis.Timeout < 0 {
		return &ConfigError{Kind: KindInvalidPolicy, Task: task.SynthesisName, Message: "synthesis step has a negative policy value"}
	}

	g := make(graph, len(r.defs))
	for name, d := range r.defs {
		g[name] = make([]string, 0, len(d.Deps))
		for _, dep := range d.Deps {
			g[name] = append(g[name], dep.Name)
		}
	}
	if cycles := findCycles(g); len(cycles) > 0 {
		return &ConfigError{Kind: KindCycle, Task: cycles[0][0],
			Message: "dependency cycle detected", Path: cycles[0]}
	}

	r.validated = true
	return nil
}

// Validated reports whether Validate has succeeded.
func (r *Registry) Validated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validated
}

// Get returns a copy of the named definition, including the synthesis step.
func (r *Registry) Get(name string) (Def, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == task.SynthesisName && r.synthesis != nil {
		return *r.synthesis, true
	}
	d, ok := r.defs[name]
	if !ok {
		return Def{}, false
	}
	return *d, true
}

// Synthesis returns the synthesis step definition.
func (r *Registry) Synthesis() (Def, bool) {
	return r.Get(task.SynthesisName)
}

// Names lists task names in declaration order, without the synthesis step.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// AllNames lists task names followed by the synthesis step when registered.
// This is the set every progress consumer reports on.
func (r *Registry) AllNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Clone(r.order)
	if r.synthesis != nil {
		names = append(names, task.SynthesisName)
	}
	return names
}

// Tasks returns copies of all task definitions in declaration order.
func (r *Registry) Tasks() []Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Def, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.defs[name])
	}
	return out
}

// Total is the canonical number of task runs per job: every registered task
// plus the synthesis step.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.order)
	if r.synthesis != nil {
		n++
	}
	return n
}

// Has reports whether name is a registered task or the synthesis step.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Owns reports whether writer is the single writer of the named section.
func (r *Registry) Owns(writer, sectionName string) bool {
	return writer == sectionName && r.Has(sectionName)
}

// IsHard reports whether the edge name → dep blocks name when dep itself
// fails. Edges to optional tasks never do.
func (r *Registry) IsHard(name, dep string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	depDef, ok := r.defs[dep]
	if !ok || !depDef.Required {
		return false
	}
	return r.hardEdge(name, dep)
}

// hardEdge reports whether name declares dep without marking it soft.
// r.mu must be held.
func (r *Registry) hardEdge(name, dep string) bool {
	d, ok := r.defs[name]
	if !ok {
		return false
	}
	for _, e := range d.Deps {
		if e.Name == dep {
			return !e.Soft
		}
	}
	return false
}

// TopoOrder returns the tasks in a dependency-respecting order, breaking
// ties by declaration order. The registry must be acyclic.
func (r *Registry) TopoOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos := make(map[string]int, len(r.order))
	for i, n := range r.order {
		pos[n] = i
	}
	indegree := make(map[string]int, len(r.order))
	dependents := make(map[string][]string)
	for _, name := range r.order {
		for _, dep := range r.defs[name].Deps {
			indegree[name]++
			dependents[dep.Name] = append(dependents[dep.Name], name)
		}
	}

	var ready, out []string
	for _, name := range r.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b string) int { return pos[a] - pos[b] })
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)
		for _, m := range dependents[n] {
			indegree[m]--
			if indegree[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	return out
}

// Dependents returns every task that transitively depends on name, sorted.
func (r *Registry) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	direct := make(map[string][]string)
	for _, n := range r.order {
		for _, dep := range r.defs[n].Deps {
			direct[dep.Name] = append(direct[dep.Name], n)
		}
	}
	seen := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, m := range direct[cur] {
			if !seen[m] {
				seen[m] = true
				queue = append(queue, m)
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}
