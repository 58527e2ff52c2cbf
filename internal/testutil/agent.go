package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// Step scripts one attempt of a ScriptedAgent.
type Step struct {
	// Data is written to the agent's section on success.
	Data section.Data

	// Section overrides the target section (ownership tests).
	Section string

	// Err is returned instead of a result.
	Err error

	// Block waits for the attempt context to end, simulating a hang.
	Block bool

	// Delay sleeps before answering; the attempt context still wins.
	Delay time.Duration

	// Panic, when non-nil, is passed to panic.
	Panic any
}

// Succeed scripts a successful attempt.
func Succeed(data section.Data) Step { return Step{Data: data} }

// Fail scripts an attempt returning err.
func Fail(err error) Step { return Step{Err: err} }

// Hang scripts an attempt that only ends when its deadline passes.
func Hang() Step { return Step{Block: true} }

// ScriptedAgent replays a fixed list of steps, one per attempt. Once the
// script runs out the last step repeats; an empty script always succeeds
// with an empty section.
//
// Thread-safety: ScriptedAgent is safe for concurrent use.
type ScriptedAgent struct {
	mu    sync.Mutex
	steps []Step
	calls int
	views []task.View
	gauge *Gauge
}

// NewScriptedAgent creates an agent that plays steps in order.
func NewScriptedAgent(steps ...Step) *ScriptedAgent {
	return &ScriptedAgent{steps: steps}
}

// WithGauge makes every attempt enter and leave g.
func (a *ScriptedAgent) WithGauge(g *Gauge) *ScriptedAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gauge = g
	return a
}

// Run implements task.Agent.
func (a *ScriptedAgent) Run(ctx context.Context, view task.View) (task.Result, error) {
	a.mu.Lock()
	step := Step{Data: section.Data{}}
	if len(a.steps) > 0 {
		step = a.steps[min(a.calls, len(a.steps)-1)]
	}
	a.calls++
	a.views = append(a.views, view)
	gauge := a.gauge
	a.mu.Unlock()

	if gauge != nil {
		gauge.Enter()
		defer gauge.Leave()
	}
	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return task.Result{}, ctx.Err()
		}
	}
	if step.Block {
		<-ctx.Done()
		return task.Result{}, ctx.Err()
	}
	if step.Panic != nil {
		panic(step.Panic)
	}
	if step.Err != nil {
		return task.Result{}, step.Err
	}
	return task.Result{Section: step.Section, Data: section.Clone(step.Data)}, nil
}

// Calls returns the number of attempts made so far.
func (a *ScriptedAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// Views returns the view handed to each attempt, in order.
func (a *ScriptedAgent) Views() []task.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]task.View(nil), a.views...)
}

// LastView returns the view of the most recent attempt.
func (a *ScriptedAgent) LastView() (task.View, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.views) == 0 {
		return task.View{}, false
	}
	return a.views[len(a.views)-1], true
}

// Gauge tracks how many attempts are executing at once.
type Gauge struct {
	cur  atomic.Int64
	peak atomic.Int64
}

// Enter records an attempt starting.
func (g *Gauge) Enter() {
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Leave records an attempt ending.
func (g *Gauge) Leave() { g.cur.Add(-1) }

// Peak returns the highest concurrency observed.
func (g *Gauge) Peak() int64 { return g.peak.Load() }
