package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/casework/internal/registry"
	"github.com/roach88/casework/internal/task"
)

// TaskInfo describes one registered task and its effective policy.
type TaskInfo struct {
	Name        string   `json:"name"`
	Required    bool     `json:"required"`
	Deps        []string `json:"deps"`
	SoftDeps    []string `json:"soft_deps"`
	Timeout     string   `json:"timeout"`
	MaxRetries  int      `json:"max_retries"`
	Conditional bool     `json:"conditional"`
	Fallback    bool     `json:"fallback"`
}

// TaskList is the output of the tasks command.
type TaskList struct {
	Tasks []TaskInfo `json:"tasks"`
	Order []string   `json:"order"`
	Total int        `json:"total"`
}

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the task registry with effective policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			reg, err := buildRegistry(rootOpts)
			if err != nil {
				_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid task registry", err)
			}
			list := describeRegistry(reg)
			return formatter.Render(list, func(w io.Writer) { renderTasks(w, list) })
		},
	}
}

func describeRegistry(reg *registry.Registry) TaskList {
	list := TaskList{Order: reg.TopoOrder(), Total: reg.Total()}
	defs := reg.Tasks()
	if syn, ok := reg.Synthesis(); ok {
		defs = append(defs, syn)
	}
	for _, d := range defs {
		info := TaskInfo{
			Name:        d.Name,
			Required:    d.Required,
			Deps:        []string{},
			SoftDeps:    []string{},
			Timeout:     d.AttemptTimeout().String(),
			MaxRetries:  d.Retries(),
			Conditional: d.Applies != nil,
			Fallback:    d.Fallback != nil,
		}
		for _, dep := range d.Deps {
			if dep.Soft {
				info.SoftDeps = append(info.SoftDeps, dep.Name)
			} else {
				info.Deps = append(info.Deps, dep.Name)
			}
		}
		if d.Name == task.SynthesisName {
			info.Deps = reg.Names()
		}
		list.Tasks = append(list.Tasks, info)
	}
	return list
}

func renderTasks(w io.Writer, list TaskList) {
	for _, t := range list.Tasks {
		kind := dimStyle.Render("optional")
		if t.Required {
			kind = headingStyle.Render("required")
		}
		fmt.Fprintf(w, "%-18s %s  timeout=%s retries=%d", t.Name, kind, t.Timeout, t.MaxRetries)
		if t.Conditional {
			fmt.Fprint(w, " conditional")
		}
		if t.Fallback {
			fmt.Fprint(w, " fallback")
		}
		fmt.Fprintln(w)
		if t.Name != task.SynthesisName && (len(t.Deps) > 0 || len(t.SoftDeps) > 0) {
			deps := append([]string{}, t.Deps...)
			for _, s := range t.SoftDeps {
				deps = append(deps, s+"~")
			}
			fmt.Fprintf(w, "  after %s\n", strings.Join(deps, ", "))
		}
	}
	fmt.Fprintf(w, "%d task runs per job\n", list.Total)
}
