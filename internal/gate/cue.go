package gate

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/casework/internal/section"
)

//go:embed constraints.cue
var builtinConstraints string

// constraints evaluates synthesized sections against compiled CUE schemas.
// A cue.Context is not safe for concurrent use, so evaluation is serialised.
type constraints struct {
	mu      sync.Mutex
	ctx     *cue.Context
	schemas []namedSchema
}

type namedSchema struct {
	name  string
	value cue.Value
}

// compileConstraints builds the embedded schema plus an optional user
// schema given as CUE source.
func compileConstraints(userSchema string) (*constraints, error) {
	c := &constraints{ctx: cuecontext.New()}

	builtin := c.ctx.CompileString(builtinConstraints, cue.Filename("constraints.cue"))
	if err := builtin.Err(); err != nil {
		return nil, fmt.Errorf("compile builtin constraints: %w", err)
	}
	c.schemas = append(c.schemas, namedSchema{name: "builtin", value: builtin})

	if strings.TrimSpace(userSchema) != "" {
		user := c.ctx.CompileString(userSchema, cue.Filename("user.cue"))
		if err := user.Err(); err != nil {
			return nil, fmt.Errorf("compile user constraints: %s", formatCUE(err))
		}
		c.schemas = append(c.schemas, namedSchema{name: "user", value: user})
	}
	return c, nil
}

// check returns one critical issue per CUE violation, keyed by CUE path.
func (c *constraints) check(syn section.Data) []Issue {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := c.ctx.Encode(map[string]any(syn))
	if err := data.Err(); err != nil {
		return []Issue{{SeverityCritical, "synthesized", fmt.Sprintf("cannot evaluate constraints: %v", err)}}
	}

	var issues []Issue
	for _, s := range c.schemas {
		err := s.value.Unify(data).Validate(cue.Concrete(true))
		if err == nil {
			continue
		}
		for _, e := range cueerrors.Errors(err) {
			field := strings.Join(e.Path(), ".")
			if field == "" {
				field = "synthesized"
			}
			format, args := e.Msg()
			issues = append(issues, Issue{
				Severity: SeverityCritical,
				Field:    field,
				Message:  fmt.Sprintf("constraint violated: "+format, args...),
			})
		}
	}
	return issues
}

// formatCUE joins all CUE errors into a single line.
func formatCUE(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
