package gate

import (
	"fmt"
	"math"

	"github.com/roach88/casework/internal/section"
)

// FieldRule requires a field of the synthesized section. Path may be dotted
// (e.g. "scenarios.base"). An empty Kind accepts any non-null value.
type FieldRule struct {
	Path string `yaml:"path" json:"path"`
	Kind string `yaml:"kind" json:"kind"`
}

// DefaultRequired is the headline figure every synthesis must produce.
var DefaultRequired = []FieldRule{
	{Path: "enterprise_value", Kind: "number"},
}

// DefaultRecommended are fields whose absence is worth a warning.
var DefaultRecommended = []string{
	"company",
	"equity_value",
	"net_debt",
	"recommendation",
	"scenarios",
	"share_price",
}

// checkRequired reports missing, null and mistyped required fields.
func checkRequired(syn section.Data, rules []FieldRule) []Issue {
	var issues []Issue
	for _, r := range rules {
		v, ok := section.Lookup(syn, r.Path)
		switch {
		case !ok:
			issues = append(issues, Issue{SeverityCritical, r.Path, "required field is missing"})
		case v == nil:
			issues = append(issues, Issue{SeverityCritical, r.Path, "required field is null"})
		case r.Kind != "" && section.Kind(v) != r.Kind:
			issues = append(issues, Issue{SeverityCritical, r.Path,
				fmt.Sprintf("expected %s, got %s", r.Kind, section.Kind(v))})
		}
	}
	return issues
}

// checkRecommended warns about missing recommended fields. A recommended
// field that is present but null is critical: the synthesis claimed to
// produce it and did not.
func checkRecommended(syn section.Data, fields []string) []Issue {
	var issues []Issue
	for _, f := range fields {
		v, ok := section.Lookup(syn, f)
		switch {
		case !ok:
			issues = append(issues, Issue{SeverityWarning, f, "recommended field is missing"})
		case v == nil:
			issues = append(issues, Issue{SeverityCritical, f, "field is present but null"})
		}
	}
	return issues
}

// checkCrossField runs sanity checks between related figures. Each check is
// skipped when one of its inputs is absent or not a number.
func checkCrossField(syn section.Data, tolerance float64) []Issue {
	var issues []Issue
	num := func(path string) (float64, bool) {
		v, ok := section.Lookup(syn, path)
		if !ok {
			return 0, false
		}
		return section.Number(v)
	}

	ev, hasEV := num("enterprise_value")
	eq, hasEq := num("equity_value")
	nd, hasND := num("net_debt")
	if hasEV && hasEq && hasND && !near(eq, ev-nd, tolerance) {
		issues = append(issues, Issue{SeverityWarning, "equity_value",
			fmt.Sprintf("equity value %s does not equal enterprise value %s minus net debt %s",
				fmtNum(eq), fmtNum(ev), fmtNum(nd))})
	}

	bear, hasBear := num("scenarios.bear")
	base, hasBase := num("scenarios.base")
	bull, hasBull := num("scenarios.bull")
	if hasBear && hasBase && hasBull && !(bear <= base && base <= bull) {
		issues = append(issues, Issue{SeverityWarning, "scenarios",
			fmt.Sprintf("scenarios out of order: bear %s, base %s, bull %s", fmtNum(bear), fmtNum(base), fmtNum(bull))})
	}
	if hasBase && hasEV && !near(base, ev, tolerance) {
		issues = append(issues, Issue{SeverityWarning, "scenarios.base",
			fmt.Sprintf("base scenario %s differs from enterprise value %s", fmtNum(base), fmtNum(ev))})
	}

	price, hasPrice := num("share_price")
	shares, hasShares := num("shares_outstanding")
	if hasPrice && hasShares && hasEq && shares > 0 && !near(price, eq/shares, tolerance) {
		issues = append(issues, Issue{SeverityWarning, "share_price",
			fmt.Sprintf("share price %s does not match equity value per share %s", fmtNum(price), fmtNum(eq/shares))})
	}
	return issues
}

// near compares with a relative tolerance, falling back to absolute near zero.
func near(a, b, tolerance float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= tolerance*scale
}

func fmtNum(f float64) string {
	raw, err := section.MarshalCanonical(f)
	if err != nil {
		return fmt.Sprint(f)
	}
	return string(raw)
}
