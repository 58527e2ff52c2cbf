package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// Task names of the default catalog.
const (
	CompanyProfile = "company_profile"
	Financials     = "financials"
	MarketResearch = "market_research"
	Competitors    = "competitors"
	DCFValuation   = "dcf_valuation"
	Comparables    = "comparables"
	RiskAssessment = "risk_assessment"
)

// Option configures the catalog.
type Option func(*options)

type options struct {
	delay time.Duration
}

// WithStepDelay makes every agent take d, so progress is observable.
func WithStepDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// Register adds the default tasks and the synthesis step to reg. The
// registry is left unvalidated so policy overrides can still be applied.
func Register(reg *registry.Registry, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	wrap := func(f task.AgentFunc) task.Agent {
		return delayed{delay: o.delay, agent: f}
	}

	defs := []registry.Def{
		{Name: CompanyProfile, Required: true, Agent: wrap(companyProfile)},
		{Name: Financials, Required: true,
			Deps: []registry.Dep{registry.Hard(CompanyProfile)}, Agent: wrap(financials)},
		{Name: MarketResearch,
			Fallback: section.Data{"growth": 0.02, "source": "fallback"}, Agent: wrap(marketResearch)},
		{Name: Competitors,
			Applies:  func(p task.Params) bool { return p["analysis_type"] != "quick" },
			Fallback: section.Data{"peers": []any{}, "ev_ebitda": 8.0}, Agent: wrap(competitors)},
		{Name: DCFValuation, Required: true,
			Deps:  []registry.Dep{registry.Hard(Financials), registry.Soft(MarketResearch)},
			Agent: wrap(dcfValuation)},
		{Name: Comparables,
			Deps:  []registry.Dep{registry.Hard(Financials), registry.Soft(Competitors)},
			Agent: wrap(comparables)},
		{Name: RiskAssessment,
			Deps:  []registry.Dep{registry.Hard(CompanyProfile)},
			Agent: wrap(riskAssessment)},
	}
	for _, d := range defs {
		d.MaxRetries = registry.DefaultMaxRetries
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
	}
	return reg.SetSynthesis(registry.Def{MaxRetries: registry.DefaultMaxRetries, Agent: wrap(synthesize)})
}

// delayed sleeps before running the wrapped agent.
type delayed struct {
	delay time.Duration
	agent task.Agent
}

func (d delayed) Run(ctx context.Context, v task.View) (task.Result, error) {
	if d.delay > 0 {
		t := time.NewTimer(d.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return task.Result{}, ctx.Err()
		}
	}
	return d.agent.Run(ctx, v)
}
