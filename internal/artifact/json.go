package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/state"
)

// JSON writes the synthesized section and job metadata as canonical JSON.
type JSON struct {
	dir  string
	opts options
}

// NewJSON creates a JSON generator writing into dir.
func NewJSON(dir string, opts ...Option) *JSON {
	return &JSON{dir: dir, opts: buildOptions(opts)}
}

func (g *JSON) Kind() string { return "json" }

// Generate writes <dir>/<job-id>.json.
func (g *JSON) Generate(ctx context.Context, rec state.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	syn, err := synthesized(g.Kind(), rec, g.opts.required)
	if err != nil {
		return "", err
	}
	params := make(map[string]any, len(rec.Params))
	for k, v := range rec.Params {
		params[k] = v
	}
	doc := map[string]any{
		"job_id":       rec.JobID,
		"version":      rec.Version,
		"status":       string(rec.Status),
		"params":       params,
		"synthesized":  syn,
		"generated_at": g.opts.now().UTC().Format(time.RFC3339),
	}
	data, err := section.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("encode json artifact: %w", err)
	}
	return writeFile(g.dir, rec.JobID+".json", data)
}
