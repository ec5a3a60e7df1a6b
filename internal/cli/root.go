package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/nodebook/internal/config"
	"github.com/roach88/nodebook/internal/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Config   string // optional YAML config file
	EnvFile  string // optional dotenv file read under the environment
	Mode     string // overrides the configured mode when set
	Name     string // overrides the configured session name when set
	CacheDir string // overrides the configured cache directory when set

	// Lookup reads environment variables. Nil means os.LookupEnv.
	Lookup func(string) (string, bool)

	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the nodebook CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "nodebook",
		Short: "nodebook - incremental cell execution",
		Long: `A notebook engine that re-runs only what changed.

Cells form a chain. Each cell reads the names bound above it and records
the content hash of every value it produces, so editing or moving a cell
invalidates exactly the cells downstream that depend on it. Running a cell
re-runs its stale ancestors first.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.setupLogging(cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "path to a dotenv file of NODEBOOK_* variables")
	cmd.PersistentFlags().StringVar(&opts.Mode, "mode", "", "session mode (memory|disk), default disk")
	cmd.PersistentFlags().StringVar(&opts.Name, "name", "", "session name")
	cmd.PersistentFlags().StringVar(&opts.CacheDir, "cache-dir", "", "directory holding disk sessions")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewRerunCommand(opts))
	cmd.AddCommand(NewPositionsCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// setupLogging installs a text handler on w, at debug level when verbose.
func (o *RootOptions) setupLogging(w io.Writer) {
	logLevel := slog.LevelInfo
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	o.logger = slog.New(handler)
	slog.SetDefault(o.logger)
}

// Logger returns the command logger.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:  o.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: o.Verbose,
	}
}

// LoadConfig resolves the session configuration. Precedence, lowest first:
// disk-mode defaults, the config file, the env file, NODEBOOK_* environment
// variables, then flags.
func (o *RootOptions) LoadConfig() (config.Config, error) {
	cfg := config.Default()
	cfg.Mode = config.ModeDisk

	if err := cfg.LoadFile(o.Config); err != nil {
		return cfg, err
	}

	lookup := o.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	lookup, err := config.DotEnvLookup(o.EnvFile, lookup)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	if o.Mode != "" {
		cfg.Mode = config.Mode(o.Mode)
	}
	if o.Name != "" {
		cfg.Name = o.Name
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openSession opens the configured session. Cell print output goes to the
// command's stdout, or to stderr when the output format is JSON.
func (o *RootOptions) openSession(cmd *cobra.Command) (*session.Session, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	out := io.Discard
	if cfg.Print {
		out = cmd.OutOrStdout()
		if o.Format == "json" {
			out = cmd.ErrOrStderr()
		}
	}

	sess, err := session.Open(commandContext(cmd), cfg,
		session.WithLogger(o.Logger()),
		session.WithPrint(out),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open session", err)
	}
	return sess, nil
}

// closeSession closes sess, logging failures.
func (o *RootOptions) closeSession(sess *session.Session) {
	if err := sess.Close(); err != nil {
		o.Logger().Error("error closing session", "error", err)
	}
}

// commandContext returns the command's context, or a background context
// when the command was not started through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
