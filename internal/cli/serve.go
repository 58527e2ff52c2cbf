package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/casework/internal/api"
	"github.com/roach88/casework/internal/artifact"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen          string
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API over HTTP",
		Long: `Serve the job API over HTTP.

Jobs left PENDING or RUNNING by a previous process are resumed first;
completed tasks are not re-run. On SIGINT/SIGTERM the server drains and
running jobs are left resumable.

Example:
  casework serve --listen :8080 --db ./casework.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for running jobs on shutdown")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := a.jobs.Resume(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to resume jobs", err)
	}
	slog.Info("jobs resumed", "count", n)

	srv := api.New(a.jobs,
		api.WithGenerator(artifact.NewJSON(a.artifact)),
		api.WithGenerator(artifact.NewMarkdown(a.artifact)))
	listen := opts.Listen
	if listen == "" {
		listen = opts.Config.Listen
	}
	if err := srv.Start(ctx, listen); err != nil {
		return WrapExitError(ExitCommandError, "failed to start server", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "casework listening on http://%s (workers=%d, tasks=%d)\n",
		srv.Addr(), a.engine.Workers(), a.reg.Total())

	<-ctx.Done()
	slog.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	if err := a.jobs.Shutdown(sctx); err != nil {
		slog.Warn("jobs still running at exit; they resume on next start", "error", err)
	}
	slog.Info("stopped")
	return nil
}
