package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/task"
)

// NewJobsCommand creates the jobs command, which lists stored jobs.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List stored jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := make([]task.JobStatus, len(statuses))
			for i, s := range statuses {
				filter[i] = task.JobStatus(s)
			}
			list, err := a.jobs.List(cmd.Context(), filter...)
			if err != nil {
				return formatter.Fail(ExitCommandError, "failed to list jobs", err)
			}
			return formatter.Render(list, func(w io.Writer) {
				if len(list) == 0 {
					fmt.Fprintln(w, "no jobs")
				}
				for _, s := range list {
					fmt.Fprintf(w, "%s  %-9s  %s\n", s.JobID, styledStatus(string(s.Status)),
						s.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only jobs with these statuses")
	return cmd
}

// NewProgressCommand creates the progress command.
func NewProgressCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <job-id>",
		Short: "Show the progress snapshot of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.jobs.Progress(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail(ExitFailure, "no progress", err)
			}
			return formatter.Render(snap, func(w io.Writer) { renderSnapshot(w, snap) })
		},
	}
}

// NewResultCommand creates the result command.
func NewResultCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "result <job-id>",
		Short: "Show the final state of a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.jobs.Result(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail(ExitFailure, "no result", err)
			}
			return formatter.Render(res, func(w io.Writer) { renderResult(w, res) })
		},
	}
}

// NewValidateCommand creates the validate command. It exits 1 when the
// job's state has critical issues.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <job-id>",
		Short: "Run the consistency gate against a job",
		Long: `Run the consistency gate against a job's synthesized section.

Exits 0 when the state is valid (warnings allowed) and 1 when it has
critical issues.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.jobs.Validate(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail(ExitFailure, "validation failed", err)
			}
			if err := formatter.Render(report, func(w io.Writer) { renderReport(w, report) }); err != nil {
				return err
			}
			if !report.IsValid {
				return NewExitError(ExitFailure, fmt.Sprintf("job %s has %d critical issue(s)", args[0], len(report.Critical())))
			}
			return nil
		},
	}
}

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Kind string
	Out  string
}

type generated struct {
	JobID    string      `json:"job_id"`
	Kind     string      `json:"kind"`
	Location string      `json:"location"`
	Report   gate.Report `json:"report"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "generate <job-id>",
		Short: "Generate an artifact from a finished job",
		Long: `Generate an artifact from a finished job.

The consistency gate re-validates the state first; with critical issues
nothing is written and the command exits 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "json", "artifact kind (json|markdown)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output directory (overrides config)")
	return cmd
}

func runGenerate(opts *GenerateOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.generator(opts.Kind, opts.Out)
	if err != nil {
		_ = formatter.Error(ErrCodeBadArgument, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid kind", err)
	}
	loc, report, err := a.jobs.Generate(cmd.Context(), id, gen)
	if err != nil {
		if gate.IsValidationBlocked(err) {
			_ = formatter.Error(ErrCodeInvalidState, err.Error(), report.Issues)
			if opts.Format == "text" {
				renderReport(formatter.Writer, report)
			}
			return WrapExitError(ExitFailure, "generation blocked", err)
		}
		return formatter.Fail(ExitFailure, "generation failed", err)
	}
	out := generated{JobID: id, Kind: gen.Kind(), Location: loc, Report: report}
	return formatter.Render(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s artifact written to %s\n", gen.Kind(), loc)
		if n := len(report.Warnings()); n > 0 {
			fmt.Fprintf(w, "%s\n", warnStyle.Render(fmt.Sprintf("%d warning(s)", n)))
		}
	})
}

