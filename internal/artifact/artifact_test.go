package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/task"
)

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func testRecord(syn section.Data) state.Record {
	rec := state.Record{
		JobID:    "job-1",
		Params:   task.Params{"company": "Acme"},
		Version:  9,
		Status:   task.JobCompleted,
		Sections: map[string]section.Data{},
	}
	if syn != nil {
		rec.Sections[task.SynthesisName] = syn
	}
	return rec
}

func fullSynthesis() section.Data {
	return section.Data{
		"company":          "Acme Corp",
		"enterprise_value": 1234567.891,
		"equity_value":     1200000.0,
		"net_debt":         34567.891,
		"recommendation":   "buy",
		"scenarios":        map[string]any{"bear": 900000.0, "base": 1234567.891, "bull": 1500000.0},
		"sources":          []any{"10-K 2025", "analyst call"},
	}
}

func TestJSON_WritesCanonicalDocument(t *testing.T) {
	dir := t.TempDir()
	gen := NewJSON(dir, WithClock(fixedNow))

	loc, err := gen.Generate(t.Context(), testRecord(section.Data{"enterprise_value": 100.0}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-1.json"), loc)

	raw, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t,
		`{"generated_at":"2026-03-01T12:00:00Z","job_id":"job-1","params":{"company":"Acme"},"status":"COMPLETED","synthesized":{"enterprise_value":100},"version":9}`,
		string(raw))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
}

func TestGenerators_RefuseMissingFields(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]section.Data{
		"no synthesis": nil,
		"absent field": {"company": "Acme"},
		"null field":   {"enterprise_value": nil},
	}
	for name, syn := range cases {
		t.Run(name, func(t *testing.T) {
			for _, gen := range []Generator{NewJSON(dir), NewMarkdown(dir)} {
				_, err := gen.Generate(t.Context(), testRecord(syn))
				require.Error(t, err, gen.Kind())
				assert.True(t, IsMissingField(err))
				assert.Contains(t, err.Error(), "enterprise_value")
			}
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing written")
		})
	}
}

func TestWithRequired(t *testing.T) {
	gen := NewJSON(t.TempDir(), WithRequired("enterprise_value", "scenarios.base"))
	_, err := gen.Generate(t.Context(), testRecord(section.Data{"enterprise_value": 1.0}))

	var mf *MissingFieldError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, []string{"scenarios.base"}, mf.Fields)
	assert.Equal(t, "json", mf.Generator)
}

func TestMarkdown_RendersMemo(t *testing.T) {
	dir := t.TempDir()
	gen := NewMarkdown(dir, WithClock(fixedNow))

	loc, err := gen.Generate(t.Context(), testRecord(fullSynthesis()))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-1.md"), loc)

	raw, err := os.ReadFile(loc)
	require.NoError(t, err)
	memo := string(raw)
	assert.Contains(t, memo, "# Acme Corp")
	assert.Contains(t, memo, "**Recommendation:** BUY")
	assert.Contains(t, memo, "| Enterprise value | 1,234,567.89 |")
	assert.Contains(t, memo, "| Net debt | 34,567.89 |")
	assert.Contains(t, memo, "| bear | 900,000.00 |")
	assert.Contains(t, memo, "- analyst call")
	assert.Contains(t, memo, "record version 9, generated 2026-03-01T12:00:00Z")
	assert.NotContains(t, memo, "Implied share price")
}

func TestMarkdown_FallsBackToParams(t *testing.T) {
	gen := NewMarkdown(t.TempDir(), WithClock(fixedNow))
	loc, err := gen.Generate(t.Context(), testRecord(section.Data{"enterprise_value": 5.0}))
	require.NoError(t, err)

	raw, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Acme\n")
	assert.NotContains(t, string(raw), "Scenarios")
}

func TestFormatMoney(t *testing.T) {
	cases := map[float64]string{
		0:          "0.00",
		12.5:       "12.50",
		999:        "999.00",
		1000:       "1,000.00",
		-1234567.8: "-1,234,567.80",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatMoney(in))
	}
}
