package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/journal"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List merges recorded in the journal",
		Long: `List the most recent merges recorded in the run journal, newest first.

Example:
  docmerge runs --journal ./docmerge.db --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(rootOpts, limit, cmd)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 = all)")

	return cmd
}

func runRuns(opts *RootOptions, limit int, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.Config(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to list runs", err)
	}
	if cfg.Journal.Path == "" {
		return formatter.Fail(ExitCommandError, "failed to list runs",
			fmt.Errorf("no journal configured (set --journal or DOCMERGE_JOURNAL_PATH)"))
	}
	j, err := journal.Open(cfg.Journal.Path, journal.WithLogger(opts.Logger(cmd)))
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	runs, err := j.Runs(cmd.Context(), limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to list runs", err)
	}
	if runs == nil {
		runs = []journal.Run{}
	}

	if opts.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-9s  %s <- %s  %s", r.StartedAt.Format(time.RFC3339), r.Status, r.Source, r.Lookup, r.ID)
		if r.Error != "" {
			line += fmt.Sprintf("  [%s] %s", r.Phase, r.Error)
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	return nil
}
