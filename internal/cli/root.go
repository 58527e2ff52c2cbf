package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/casework/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "text" | "json"
	ConfigPath string
	Database   string

	// StepDelay slows every demo task down, so progress can be watched.
	StepDelay time.Duration

	// Config is loaded before any subcommand runs.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the casework CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "casework",
		Short: "casework - business analysis job orchestration",
		Long: `Runs business-analysis jobs as a graph of analysis tasks with retries,
timeouts and live progress, and gates artifact generation on a consistency
check of the synthesized results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !slices.Contains(ValidFormats, opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			setupLogging(cmd.ErrOrStderr(), opts)

			explicit := cmd.Flags().Changed("config")
			cfg, err := config.Load(opts.ConfigPath, !explicit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().DurationVar(&opts.StepDelay, "step-delay", 0, "artificial delay per demo task")
	_ = cmd.PersistentFlags().MarkHidden("step-delay")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))
	cmd.AddCommand(NewProgressCommand(opts))
	cmd.AddCommand(NewResultCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewTasksCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// setupLogging installs the process-wide slog handler on w.
func setupLogging(w io.Writer, opts *RootOptions) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, hopts)
	if opts.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
