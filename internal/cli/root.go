package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/config"
	"github.com/roach88/docmerge/internal/logging"
	"github.com/roach88/docmerge/internal/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	EnvFile string

	// OpenStore overrides how store sessions are dialed (for testing).
	// If nil, sessions connect to MongoDB.
	OpenStore session.Opener

	cfg    *config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// flagKeys maps configuration keys to the flags that override them.
var flagKeys = map[string]string{
	config.KeyMongoURL:        "mongo-url",
	config.KeyMongoDatabase:   "database",
	config.KeyStagingPrefix:   "prefix",
	config.KeySwapMode:        "swap-mode",
	config.KeyJournalPath:     "journal",
	config.KeyMetricsTextfile: "metrics-textfile",
	config.KeyCRMURL:          "crm-url",
}

// NewRootCommand creates the root command for the docmerge CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docmerge",
		Short: "docmerge - lookup-merge for document collections",
		Long: `Copy fields from a lookup collection into a source collection by key,
entirely inside the document store, and swap the result in place of the source.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.EnvFile, "env-file", "", "dotenv file with DOCMERGE_* settings")
	pf.String("mongo-url", "", "MongoDB connection string")
	pf.String("database", "", "MongoDB database")
	pf.String("prefix", "", "staging collection prefix")
	pf.String("swap-mode", "", "final swap: drop-then-rename or overwrite-rename")
	pf.String("journal", "", "path to the SQLite run journal")
	pf.String("metrics-textfile", "", "write Prometheus metrics to this file")
	pf.String("crm-url", "", "CRM API base URL for provider models")

	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewURLCommand(opts))
	cmd.AddCommand(NewProviderCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Config resolves the configuration once per process. Flags that exist on
// cmd (or its parents) and were set explicitly override the environment.
func (o *RootOptions) Config(cmd *cobra.Command) (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	loader := config.NewLoader(o.EnvFile)
	for key, name := range flagKeys {
		if f := cmd.Flag(name); f != nil {
			if err := loader.BindFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	o.cfg = cfg
	return cfg, nil
}

// Logger returns the process logger, writing to cmd's error stream.
func (o *RootOptions) Logger(cmd *cobra.Command) *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	logger, err := logging.New(cmd.ErrOrStderr(), o.Verbose, o.Format)
	if err != nil {
		logger, _ = logging.New(cmd.ErrOrStderr(), o.Verbose, "text")
	}
	o.logger = logger
	return logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
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
