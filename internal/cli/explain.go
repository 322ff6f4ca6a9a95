package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/keytoken"
	"github.com/roach88/docmerge/internal/merge"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Salt         string
	SourceFields []string
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <request-file>",
		Short: "Print the plan of a request without running it",
		Long: `Print the staging names, join keys, aggregation pipelines and finalize
steps of each request in a file. Tokens are derived from --salt, so the
output is reproducible.

The source document shape is only known at run time; --source-fields names
the fields the merge pipeline should carry.

Example:
  docmerge explain --salt demo --source-fields id,custId requests/orders.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Salt, "salt", "explain", "salt for token derivation")
	cmd.Flags().StringSliceVar(&opts.SourceFields, "source-fields", nil, "source fields carried by the merge pipeline")

	return cmd
}

func runExplain(opts *ExplainOptions, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	entries, err := loadRequests([]string{file}, false)
	if err != nil {
		return formatter.Fail(GetExitCode(err), "failed to load requests", err)
	}
	cfg, err := opts.Config(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to explain", err)
	}
	swap, err := cfg.SwapMode()
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to explain", err)
	}
	if opts.Salt == "" {
		return formatter.Fail(ExitCommandError, "invalid flags", fmt.Errorf("--salt must not be empty"))
	}

	// Planning never touches the store.
	eng := merge.New(memstore.New(),
		merge.WithLogger(opts.Logger(cmd)),
		merge.WithSwapMode(swap),
		merge.WithStagingPrefix(cfg.Staging.Prefix),
	)

	explanations := make([]*merge.Explanation, 0, len(entries))
	for i, en := range entries {
		rc, err := keytoken.NewRunContext(keytoken.NewFixedSource(opts.Salt))
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to explain", err)
		}
		plan, err := eng.Plan(en.Request, rc)
		if err != nil {
			return formatter.Fail(ExitFailure, fmt.Sprintf("request %d", i+1), err)
		}
		x, err := plan.Explain(opts.SourceFields)
		if err != nil {
			return formatter.Fail(ExitFailure, fmt.Sprintf("request %d", i+1), err)
		}
		x.Seed = opts.Salt
		explanations = append(explanations, x)
	}

	if opts.Format == "json" {
		return formatter.Success(explanations)
	}
	for i, x := range explanations {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		writeExplanation(formatter, x)
	}
	return nil
}

func writeExplanation(f *OutputFormatter, x *merge.Explanation) {
	w := f.Writer
	fmt.Fprintf(w, "%s <- %s (seed %s, %s)\n", x.Source, x.Lookup, x.Seed, x.Swap)
	fmt.Fprintf(w, "  run salt: %s\n", x.Salt)
	fmt.Fprintf(w, "  lookup-temp: %s\n", x.LookupTemp)
	fmt.Fprintf(w, "  source-temp: %s\n", x.SourceTemp)
	fmt.Fprintln(w, "  join keys:")
	for _, k := range x.JoinKeys {
		fmt.Fprintf(w, "    %s = %s\n", k.Token, k.Key)
	}
	fmt.Fprintln(w, "  outputs:")
	for _, o := range x.Outputs {
		line := fmt.Sprintf("    %s: %s -> %s", o.Field, o.Alias, o.Target)
		if o.HasDefault() {
			line += fmt.Sprintf(" (default %v)", o.Default)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, "  lookup pipeline:")
	for _, s := range x.LookupPipeline {
		fmt.Fprintf(w, "    %s\n", s)
	}
	fmt.Fprintln(w, "  merge pipeline:")
	for _, s := range x.MergePipeline {
		fmt.Fprintf(w, "    %s\n", s)
	}
	fmt.Fprintln(w, "  finalize:")
	for i, s := range x.Finalize {
		fmt.Fprintf(w, "    %d. %s\n", i+1, s)
	}
}
