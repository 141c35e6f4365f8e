package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/stablekit/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Database and Backend override the configured store when set.
	Database string
	Backend  string

	// Config is loaded on first use. Tests may set it directly.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stablekit CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stablekit",
		Short: "Inspect and operate stablekit stores",
		Long: `stablekit manages durable data structures kept in a single store:
deduplicating logs, identity-scoped vectors, cached two-level maps and a
retrying task queue.

Regions are declared in the configuration file; every structure command
takes the region name as its first argument.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			configureLogging(cmd.ErrOrStderr(), cfg.Log, opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "store path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "store backend: sqlite|pebble (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewVecCommand(opts))
	cmd.AddCommand(NewMapCommand(opts))
	cmd.AddCommand(NewTaskCommand(opts))
	cmd.AddCommand(NewRegionsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported through the OutputFormatter: JSON errors go to
// stdout so the response stays machine readable, text errors to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: stderr, Verbose: opts.Verbose}
	if opts.Format == "json" {
		formatter.Writer = stdout
	}
	_ = formatter.Error(GetErrCode(err), err.Error(), nil)
	return GetExitCode(err)
}

// loadConfig loads and caches the configuration, applying flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.Config == nil {
		cfg, err := config.Load(o.ConfigPath)
		if err != nil {
			return nil, WrapCodedError(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
		}
		o.Config = cfg
	}
	if o.Database != "" {
		o.Config.Store.Path = o.Database
	}
	if o.Backend != "" {
		o.Config.Store.Backend = o.Backend
	}
	return o.Config, nil
}

// formatter returns an OutputFormatter writing to the command's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// configureLogging installs the default slog logger.
func configureLogging(w io.Writer, cfg config.LogConfig, verbose bool) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
