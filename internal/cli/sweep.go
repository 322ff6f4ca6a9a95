package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/staging"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Stale  time.Duration
	DryRun bool
}

// SweepResult lists the staging collections a sweep matched.
type SweepResult struct {
	Prefix  string   `json:"prefix"`
	Journal bool     `json:"journal"`
	DryRun  bool     `json:"dryRun,omitempty"`
	Dropped []string `json:"dropped"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Drop orphaned staging collections",
		Long: `Drop staging collections left behind by failed or interrupted merges.

Without a journal every collection carrying the staging prefix is dropped,
so no merge may be running. With --journal only collections the journal
recorded as orphaned are dropped: their run has ended, or has been running
for longer than --stale. Collections awaiting a final rename are never
dropped; run "docmerge recover" for those.

Example:
  docmerge sweep --prefix AG_
  docmerge sweep --journal ./docmerge.db --stale 2h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Stale, "stale", time.Hour, "treat journal runs older than this as dead")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list matching collections without dropping them")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	e, err := opts.openEnv(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare sweep", err)
	}
	defer func() {
		if err := e.close(); err != nil {
			opts.Logger(cmd).Warn("closing sweep resources failed", "error", err)
		}
	}()

	st, err := e.store(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare sweep", err)
	}
	pred, err := sweepPredicate(ctx, e, opts.Stale)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read journal", err)
	}

	result := SweepResult{Prefix: e.cfg.Staging.Prefix, Journal: e.journal != nil, DryRun: opts.DryRun}
	if opts.DryRun {
		result.Dropped, err = matching(ctx, st, pred)
	} else {
		mgr := staging.NewManager(st, staging.WithPrefix(e.cfg.Staging.Prefix), staging.WithLogger(opts.Logger(cmd)))
		result.Dropped, err = mgr.Sweep(ctx, pred)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, "sweep failed", err)
	}

	if !opts.DryRun {
		if e.journal != nil {
			if err := e.journal.MarkDropped(ctx, result.Dropped...); err != nil {
				return formatter.Fail(ExitFailure, "failed to update journal", err)
			}
		}
		if e.metrics != nil {
			e.metrics.Swept(len(result.Dropped))
		}
	}
	if result.Dropped == nil {
		result.Dropped = []string{}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	verb := "Dropped"
	if opts.DryRun {
		verb = "Would drop"
	}
	if len(result.Dropped) == 0 {
		fmt.Fprintln(formatter.Writer, "No staging collections to drop.")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "%s %d staging collection(s):\n", verb, len(result.Dropped))
	for _, n := range result.Dropped {
		fmt.Fprintf(formatter.Writer, "  %s\n", n)
	}
	return nil
}

// sweepPredicate matches prefixed collections; with a journal, only its
// orphans, and never a collection awaiting its final rename.
func sweepPredicate(ctx context.Context, e *env, stale time.Duration) (func(string) bool, error) {
	prefixed := staging.HasPrefix(e.cfg.Staging.Prefix)
	if e.journal == nil {
		return prefixed, nil
	}
	orphans, err := e.journal.Orphans(ctx, stale)
	if err != nil {
		return nil, err
	}
	protected, err := e.journal.Protected(ctx)
	if err != nil {
		return nil, err
	}
	orphan := staging.Names(orphans...)
	return func(name string) bool {
		return prefixed(name) && orphan(name) && !protected[name]
	}, nil
}

func matching(ctx context.Context, st docstore.Store, pred func(string) bool) ([]string, error) {
	names, err := st.CollectionNames(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if pred(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}
