package artifact

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/state"
)

//go:embed templates/memo.md.tmpl
var templateFS embed.FS

var memoTemplate = template.Must(template.New("memo.md.tmpl").Funcs(template.FuncMap{
	"money": formatMoney,
	"upper": strings.ToUpper,
}).ParseFS(templateFS, "templates/memo.md.tmpl"))

// Markdown renders an investment memo.
type Markdown struct {
	dir  string
	opts options
}

// NewMarkdown creates a Markdown generator writing into dir.
func NewMarkdown(dir string, opts ...Option) *Markdown {
	return &Markdown{dir: dir, opts: buildOptions(opts)}
}

func (g *Markdown) Kind() string { return "markdown" }

type memo struct {
	JobID           string
	Version         int64
	Company         string
	Recommendation  string
	EnterpriseValue float64
	EquityValue     *float64
	NetDebt         *float64
	SharePrice      *float64
	Scenarios       []scenario
	Sources         []string
	GeneratedAt     string
}

type scenario struct {
	Name  string
	Value float64
}

// Generate writes <dir>/<job-id>.md.
func (g *Markdown) Generate(ctx context.Context, rec state.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	syn, err := synthesized(g.Kind(), rec, g.opts.required)
	if err != nil {
		return "", err
	}

	m := memo{
		JobID:       rec.JobID,
		Version:     rec.Version,
		Company:     stringField(syn, "company", rec.Params["company"]),
		GeneratedAt: g.opts.now().UTC().Format(time.RFC3339),
	}
	m.Recommendation = stringField(syn, "recommendation", "")
	if v, ok := numberField(syn, "enterprise_value"); ok {
		m.EnterpriseValue = *v
	}
	m.EquityValue, _ = numberField(syn, "equity_value")
	m.NetDebt, _ = numberField(syn, "net_debt")
	m.SharePrice, _ = numberField(syn, "share_price")
	for _, name := range []string{"bear", "base", "bull"} {
		if v, ok := numberField(syn, "scenarios."+name); ok {
			m.Scenarios = append(m.Scenarios, scenario{Name: name, Value: *v})
		}
	}
	if raw, ok := section.Lookup(syn, "sources"); ok {
		if list, ok := raw.([]any); ok {
			for _, s := range list {
				if str, ok := s.(string); ok {
					m.Sources = append(m.Sources, str)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := memoTemplate.Execute(&buf, m); err != nil {
		return "", fmt.Errorf("render markdown artifact: %w", err)
	}
	return writeFile(g.dir, rec.JobID+".md", buf.Bytes())
}

func stringField(d section.Data, path, def string) string {
	if v, ok := section.Lookup(d, path); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func numberField(d section.Data, path string) (*float64, bool) {
	v, ok := section.Lookup(d, path)
	if !ok {
		return nil, false
	}
	n, ok := section.Number(v)
	if !ok {
		return nil, false
	}
	return &n, true
}

// formatMoney renders 1234567.891 as "1,234,567.89".
func formatMoney(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
