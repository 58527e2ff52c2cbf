package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/roach88/casework/internal/jobs"
	"github.com/roach88/casework/internal/task"
	"github.com/roach88/casework/internal/tui"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Params []string
	Watch  bool

	// IDs allows overriding the job id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs jobs.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one analysis job in-process",
		Long: `Run one analysis job in this process and print its final summary.

Ctrl-C cancels the job. With --watch the live progress view is shown;
q detaches and leaves the job resumable by "casework serve".

Example:
  casework run --param company=Acme --param price=30
  casework run --param company=Acme --param analysis_type=quick --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "job parameter as key=value (repeatable)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "show live progress")

	return cmd
}

// parseParams turns key=value pairs into job params.
func parseParams(pairs []string) (task.Params, error) {
	params := task.Params{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q: want key=value", p)
		}
		params[k] = v
	}
	return params, nil
}

func runJob(opts *RunOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	params, err := parseParams(opts.Params)
	if err != nil {
		_ = formatter.Error(ErrCodeBadArgument, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid parameters", err)
	}

	var jopts []jobs.Option
	if opts.IDs != nil {
		jopts = append(jopts, jobs.WithIDGenerator(opts.IDs))
	}
	a, err := openApp(opts.RootOptions, jopts...)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := a.jobs.Start(ctx, params)
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to start job", err)
	}
	formatter.VerboseLog("job %s started", id)

	if opts.Watch && opts.Format == "text" {
		snap, sub, err := a.jobs.Subscribe(ctx, id)
		if err != nil {
			return formatter.Fail(ExitFailure, "failed to subscribe", err)
		}
		final, err := tui.Watch(ctx, snap, sub, a.reg.AllNames(),
			tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
		sub.Close()
		if err == nil && !final.OverallStatus.IsTerminal() && ctx.Err() == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "detached from job %s; it resumes on the next \"casework serve\"\n", id)
			return nil
		}
	}

	s, err := a.jobs.Wait(ctx, id)
	if errors.Is(err, context.Canceled) {
		// Interrupted: cancel the job and report how it ended.
		if cerr := a.jobs.Cancel(context.Background(), id); cerr != nil {
			formatter.VerboseLog("cancel %s: %v", id, cerr)
		}
		s, err = a.jobs.Wait(context.Background(), id)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, "job did not finish", err)
	}

	if err := formatter.Render(s, func(w io.Writer) { renderSummary(w, s) }); err != nil {
		return err
	}
	if s.Status == task.JobFailed {
		return NewExitError(ExitFailure, fmt.Sprintf("job %s failed: %s", id, s.Message))
	}
	return nil
}
