package harness

import (
	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/task"
)

// Outcome is what one scenario run produced.
type Outcome struct {
	Scenario    string              `json:"scenario"`
	JobID       string              `json:"job_id"`
	Status      task.JobStatus      `json:"status"`
	Message     string              `json:"message,omitempty"`
	Runs        map[string]task.Run `json:"runs"`
	Synthesized section.Data        `json:"synthesized,omitempty"`
	Report      gate.Report         `json:"report"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expectation matched.
	Pass bool `json:"pass"`

	// Errors lists the expectations that did not match.
	Errors []string `json:"errors,omitempty"`

	Outcome *Outcome `json:"outcome"`
}

// NewResult creates a new passing result.
func NewResult(o *Outcome) *Result {
	return &Result{Pass: true, Errors: []string{}, Outcome: o}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// toCanonicalMap keeps only the deterministic parts of the outcome:
// timestamps and failure messages are left out.
func (o *Outcome) toCanonicalMap() map[string]any {
	tasks := make(map[string]any, len(o.Runs))
	for name, r := range o.Runs {
		entry := map[string]any{
			"status":  string(r.Status),
			"attempt": r.Attempt,
		}
		if r.Status == task.StatusSkipped {
			entry["reason"] = r.Reason
		}
		tasks[name] = entry
	}

	issues := make([]any, len(o.Report.Issues))
	for i, is := range o.Report.Issues {
		issues[i] = map[string]any{
			"severity": string(is.Severity),
			"field":    is.Field,
			"message":  is.Message,
		}
	}

	var synthesized any
	if o.Synthesized != nil {
		synthesized = map[string]any(o.Synthesized)
	}
	return map[string]any{
		"scenario":    o.Scenario,
		"job_id":      o.JobID,
		"status":      string(o.Status),
		"message":     o.Message,
		"tasks":       tasks,
		"synthesized": synthesized,
		"report": map[string]any{
			"version":  o.Report.Version,
			"is_valid": o.Report.IsValid,
			"issues":   issues,
		},
	}
}

// Canonical renders the deterministic part of the outcome as canonical
// JSON.
func (o *Outcome) Canonical() ([]byte, error) {
	return section.MarshalCanonical(o.toCanonicalMap())
}
