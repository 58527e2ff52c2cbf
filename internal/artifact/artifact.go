package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/casework/internal/section"
	"github.com/roach88/casework/internal/state"
	"github.com/roach88/casework/internal/task"
)

// Generator writes one artifact for a job and returns where it went.
type Generator interface {
	Kind() string
	Generate(ctx context.Context, rec state.Record) (location string, err error)
}

// RequiredFields are the synthesized fields every generator needs.
var RequiredFields = []string{"enterprise_value"}

// MissingFieldError reports synthesized fields a generator needs but did not
// find (absent or null).
type MissingFieldError struct {
	Generator string
	JobID     string
	Fields    []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s artifact for job %s: missing required fields: %s",
		e.Generator, e.JobID, strings.Join(e.Fields, ", "))
}

// IsMissingField reports whether err is a MissingFieldError.
func IsMissingField(err error) bool {
	var mf *MissingFieldError
	return errors.As(err, &mf)
}

// Option configures a generator.
type Option func(*options)

type options struct {
	required []string
	now      func() time.Time
}

// WithRequired replaces RequiredFields for one generator.
func WithRequired(fields ...string) Option {
	return func(o *options) { o.required = fields }
}

// WithClock sets the clock stamped into generated documents.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{required: RequiredFields, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// synthesized returns the synthesized section after checking the required
// fields.
func synthesized(kind string, rec state.Record, required []string) (section.Data, error) {
	syn := rec.Sections[task.SynthesisName]
	var missing []string
	for _, f := range required {
		if v, ok := section.Lookup(syn, f); !ok || v == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingFieldError{Generator: kind, JobID: rec.JobID, Fields: missing}
	}
	return syn, nil
}

// writeFile writes data atomically: a temp file in dir renamed into place.
func writeFile(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename artifact: %w", err)
	}
	return path, nil
}
