package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/merge"
)

// RecoveredSwap is the outcome of resuming one pending swap.
type RecoveredSwap struct {
	RunID  string             `json:"runId"`
	Source string             `json:"source"`
	Staged string             `json:"staged"`
	From   merge.FinalizeStep `json:"from"`
	Error  string             `json:"error,omitempty"`
}

// RecoverResult lists the pending swaps a recover run handled.
type RecoverResult struct {
	Swaps     []RecoveredSwap `json:"swaps"`
	Recovered int             `json:"recovered"`
	Failed    int             `json:"failed"`
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Complete merges interrupted during the final swap",
		Long: `Resume every merge the journal recorded as interrupted after its result
was staged. Each resumes from the last finalize step that completed: field
defaults, field renames, then the rename of the staged result over the
source collection.

Example:
  docmerge recover --journal ./docmerge.db --database crm`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(rootOpts, cmd)
		},
	}

	return cmd
}

func runRecover(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	e, err := opts.openEnv(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare recovery", err)
	}
	defer func() {
		if err := e.close(); err != nil {
			opts.Logger(cmd).Warn("closing recovery resources failed", "error", err)
		}
	}()
	if e.journal == nil {
		return formatter.Fail(ExitCommandError, "failed to prepare recovery",
			fmt.Errorf("recover needs a journal (set --journal or DOCMERGE_JOURNAL_PATH)"))
	}

	pending, err := e.journal.PendingSwaps(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read journal", err)
	}
	result := RecoverResult{Swaps: make([]RecoveredSwap, 0, len(pending))}
	if len(pending) > 0 {
		st, err := e.store(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to prepare recovery", err)
		}
		engineOpts, err := e.engineOptions(opts, cmd)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to prepare recovery", err)
		}
		for _, ps := range pending {
			// Each swap finishes with the mode it was planned with.
			eng := merge.New(st, append(engineOpts, merge.WithSwapMode(ps.Plan.Swap))...)
			rs := RecoveredSwap{RunID: ps.RunID, Source: ps.Target, Staged: ps.Staged, From: ps.Step}
			if _, err := eng.Resume(ctx, ps.Plan, ps.Step); err != nil {
				rs.Error = err.Error()
				result.Failed++
				opts.Logger(cmd).Error("recovery failed", "run", ps.RunID, "source", ps.Target, "error", err)
			} else {
				result.Recovered++
			}
			result.Swaps = append(result.Swaps, rs)
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		writeRecoverText(formatter, result)
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d swap(s) could not be recovered", result.Failed))
	}
	return nil
}

func writeRecoverText(f *OutputFormatter, result RecoverResult) {
	w := f.Writer
	if len(result.Swaps) == 0 {
		fmt.Fprintln(w, "No interrupted merges.")
		return
	}
	for _, s := range result.Swaps {
		if s.Error != "" {
			fmt.Fprintf(w, "✗ %s (run %s, from %s): %s\n", s.Source, s.RunID, s.From, s.Error)
			continue
		}
		fmt.Fprintf(w, "✓ %s (run %s, from %s)\n", s.Source, s.RunID, s.From)
	}
	fmt.Fprintf(w, "\nRecovered %d, failed %d\n", result.Recovered, result.Failed)
}
