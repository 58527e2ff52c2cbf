package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/casework/internal/section"
)

// AssertionError is one unmet expectation.
type AssertionError struct {
	Field    string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Field, e.Expected, e.Actual)
}

// CheckExpectations compares an outcome with what the scenario expects and
// returns one message per mismatch, in a stable order.
func CheckExpectations(o *Outcome, want Expectation) []string {
	var errs []string
	fail := func(field, expected, actual string) {
		errs = append(errs, (&AssertionError{Field: field, Expected: expected, Actual: actual}).Error())
	}

	if o.Status != want.Status {
		fail("status", string(want.Status), string(o.Status))
	}
	if want.Message != "" && !strings.Contains(o.Message, want.Message) {
		fail("message", fmt.Sprintf("to contain %q", want.Message), fmt.Sprintf("%q", o.Message))
	}

	names := make([]string, 0, len(want.Tasks))
	for name := range want.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		te := want.Tasks[name]
		run, ok := o.Runs[name]
		if !ok {
			fail("tasks."+name, string(te.Status), "no run")
			continue
		}
		if run.Status != te.Status {
			fail("tasks."+name+".status", string(te.Status), string(run.Status))
		}
		if te.Attempts != nil && run.Attempt != *te.Attempts {
			fail("tasks."+name+".attempts", fmt.Sprint(*te.Attempts), fmt.Sprint(run.Attempt))
		}
		if te.Reason != "" && !strings.Contains(run.Reason, te.Reason) {
			fail("tasks."+name+".reason", fmt.Sprintf("to contain %q", te.Reason), fmt.Sprintf("%q", run.Reason))
		}
	}

	if want.Valid != nil && o.Report.IsValid != *want.Valid {
		fail("valid", fmt.Sprint(*want.Valid), fmt.Sprintf("%t (%d issues)", o.Report.IsValid, len(o.Report.Issues)))
	}

	if len(want.Synthesized) > 0 {
		errs = append(errs, matchSubset("synthesized", want.Synthesized, o.Synthesized)...)
	}
	return errs
}

// matchSubset checks that every expected key is present in actual with an
// equal value. Both sides are compared in decoded-JSON form.
func matchSubset(prefix string, expected map[string]any, actual section.Data) []string {
	if actual == nil {
		return []string{(&AssertionError{Field: prefix, Expected: "a section", Actual: "none"}).Error()}
	}
	exp, err := section.Normalize(section.Data(expected))
	if err != nil {
		return []string{fmt.Sprintf("%s: cannot normalize expected values: %v", prefix, err)}
	}

	keys := make([]string, 0, len(exp))
	for k := range exp {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []string
	for _, k := range keys {
		got, ok := actual[k]
		switch {
		case !ok:
			errs = append(errs, (&AssertionError{Field: prefix + "." + k, Expected: render(exp[k]), Actual: "missing"}).Error())
		case !reflect.DeepEqual(exp[k], got):
			errs = append(errs, (&AssertionError{Field: prefix + "." + k, Expected: render(exp[k]), Actual: render(got)}).Error())
		}
	}
	return errs
}

func render(v any) string {
	raw, err := section.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
