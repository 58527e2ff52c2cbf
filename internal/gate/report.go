package gate

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/casework/internal/section"
)

// Severity grades an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

func (s Severity) rank() int {
	if s == SeverityCritical {
		return 0
	}
	return 1
}

// Issue is one finding of the gate.
type Issue struct {
	Severity Severity `json:"severity"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Field, i.Message)
}

// Report is the outcome of one validation.
type Report struct {
	JobID   string  `json:"job_id"`
	Version int64   `json:"version"`
	IsValid bool    `json:"is_valid"`
	Issues  []Issue `json:"issues"`
}

// Critical returns only the critical issues.
func (r Report) Critical() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			out = append(out, i)
		}
	}
	return out
}

// Warnings returns only the warnings.
func (r Report) Warnings() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

func sortIssues(issues []Issue) {
	slices.SortFunc(issues, func(a, b Issue) int {
		return cmp.Or(
			cmp.Compare(a.Severity.rank(), b.Severity.rank()),
			cmp.Compare(a.Field, b.Field),
			cmp.Compare(a.Message, b.Message),
		)
	})
}

// ValidationBlockedError is returned instead of running a generator when
// the gate rejects the current state. It carries the itemized issues.
type ValidationBlockedError struct {
	JobID   string
	Version int64
	Issues  []Issue
}

func (e *ValidationBlockedError) Error() string {
	crit := 0
	fields := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		if i.Severity == SeverityCritical {
			crit++
			fields = append(fields, i.Field)
		}
	}
	return fmt.Sprintf("generation blocked for job %s: %d critical issue(s): %s",
		e.JobID, crit, strings.Join(fields, ", "))
}

// IsValidationBlocked returns true if err is a ValidationBlockedError.
func IsValidationBlocked(err error) bool {
	var ve *ValidationBlockedError
	return errors.As(err, &ve)
}

// Canonical renders the report as canonical JSON.
func (r Report) Canonical() ([]byte, error) {
	issues := make([]any, len(r.Issues))
	for i, is := range r.Issues {
		issues[i] = map[string]any{
			"severity": string(is.Severity),
			"field":    is.Field,
			"message":  is.Message,
		}
	}
	return section.MarshalCanonical(map[string]any{
		"job_id":   r.JobID,
		"version":  r.Version,
		"is_valid": r.IsValid,
		"issues":   issues,
	})
}
