package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/merge"
	"github.com/roach88/docmerge/internal/requestfile"
)

// MergeOptions holds flags for the merge command.
type MergeOptions struct {
	*RootOptions
	DryRun        bool
	Seed          string
	ProviderModel string
}

// MergeReport is the outcome of one merge invocation.
type MergeReport struct {
	Results []*merge.Result `json:"results"`

	// Collections holds the merged source collections of a dry run.
	Collections map[string][]json.RawMessage `json:"collections,omitempty"`
}

// requestEntry is a loaded request and the file it came from.
type requestEntry struct {
	File    string
	Request merge.Request
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "merge <request-file>...",
		Short: "Run lookup-merge requests",
		Long: `Run every request in the given files (YAML, CUE or extended JSON) in order.

Each request copies fields from its lookup collection into its source
collection, keyed by lookup expressions, and replaces the source with the
merged result. Requests share one store session.

With --dry-run the requests run against an in-memory store seeded from
--seed, and the merged collections are printed.

Example:
  docmerge merge --database crm requests/orders.yaml
  docmerge merge --dry-run --seed seed.yaml requests/orders.cue
  docmerge merge --provider-model 42 requests/orders.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "run against an in-memory store")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "seed data for --dry-run (collection name -> documents)")
	cmd.Flags().StringVar(&opts.ProviderModel, "provider-model", "", "run against the MongoDB of this CRM provider model")

	return cmd
}

func runMerge(opts *MergeOptions, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	entries, err := loadRequests(files, true)
	if err != nil {
		return formatter.Fail(GetExitCode(err), "failed to load requests", err)
	}
	formatter.VerboseLog("Loaded %d request(s) from %d file(s)", len(entries), len(files))

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if opts.DryRun {
		return runDryMerge(ctx, opts, entries, cmd)
	}
	if opts.Seed != "" {
		return formatter.Fail(ExitCommandError, "invalid flags", fmt.Errorf("--seed requires --dry-run"))
	}

	e, err := opts.openEnv(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare merge", err)
	}
	defer func() {
		if err := e.close(); err != nil {
			opts.Logger(cmd).Warn("closing merge resources failed", "error", err)
		}
	}()

	if opts.ProviderModel != "" {
		ds, err := opts.resolveProvider(ctx, cmd, opts.ProviderModel, nil)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to resolve provider model", err)
		}
		e.url = ds.URL
	}
	st, err := e.store(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare merge", err)
	}
	engineOpts, err := e.engineOptions(opts.RootOptions, cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare merge", err)
	}
	eng := merge.New(st, engineOpts...)

	report, err := runRequests(ctx, eng, entries)
	if err != nil {
		return formatter.Fail(ExitFailure, "merge failed", err)
	}
	return outputMerge(opts, formatter, report)
}

func runDryMerge(ctx context.Context, opts *MergeOptions, entries []requestEntry, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.Config(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare dry run", err)
	}
	swap, err := cfg.SwapMode()
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare dry run", err)
	}

	st := memstore.New()
	if opts.Seed != "" {
		if err := seedStore(ctx, st, opts.Seed); err != nil {
			return formatter.Fail(ExitCommandError, "failed to seed dry run", err)
		}
	}
	eng := merge.New(st,
		merge.WithLogger(opts.Logger(cmd)),
		merge.WithSwapMode(swap),
		merge.WithStagingPrefix(cfg.Staging.Prefix),
	)

	report, err := runRequests(ctx, eng, entries)
	if err != nil {
		return formatter.Fail(ExitFailure, "merge failed", err)
	}
	report.Collections = make(map[string][]json.RawMessage)
	for _, r := range report.Results {
		docs, err := extJSONDocs(st.Docs(r.Source))
		if err != nil {
			return formatter.Fail(ExitFailure, "failed to render result", err)
		}
		report.Collections[r.Source] = docs
	}
	return outputMerge(opts, formatter, report)
}

// runRequests runs entries in order, stopping at the first failure.
func runRequests(ctx context.Context, eng *merge.Engine, entries []requestEntry) (*MergeReport, error) {
	report := &MergeReport{Results: make([]*merge.Result, 0, len(entries))}
	for _, en := range entries {
		res, err := eng.Run(ctx, en.Request)
		if err != nil {
			return nil, fmt.Errorf("%s: merge %s into %s: %w", en.File, en.Request.Lookup, en.Request.Source, err)
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// loadRequests reads every request of files; with validate, each request
// is also checked.
func loadRequests(files []string, validate bool) ([]requestEntry, error) {
	var out []requestEntry
	for _, f := range files {
		reqs, err := requestfile.Load(f)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load "+f, err)
		}
		for i, r := range reqs {
			if validate {
				if err := r.Validate(); err != nil {
					return nil, WrapExitError(ExitFailure, fmt.Sprintf("%s: request %d", f, i+1), err)
				}
			}
			out = append(out, requestEntry{File: f, Request: r})
		}
	}
	return out, nil
}

func seedStore(ctx context.Context, st *memstore.Store, path string) error {
	colls, err := requestfile.LoadSeed(path)
	if err != nil {
		return err
	}
	for _, c := range colls {
		if len(c.Docs) == 0 {
			if err := st.CreateCollection(ctx, c.Name); err != nil {
				return err
			}
			continue
		}
		if err := st.InsertMany(ctx, c.Name, c.Docs); err != nil {
			return fmt.Errorf("seed %s: %w", c.Name, err)
		}
	}
	return nil
}

func extJSONDocs(docs []bson.D) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		b, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func outputMerge(opts *MergeOptions, formatter *OutputFormatter, report *MergeReport) error {
	if opts.Format == "json" {
		return formatter.Success(report)
	}

	w := formatter.Writer
	for _, r := range report.Results {
		fmt.Fprintf(w, "✓ %s <- %s: %d field(s), %d renamed, %d defaulted\n",
			r.Source, r.Lookup, r.Outputs, r.Renamed, r.Defaulted)
		formatter.VerboseLog("  salt %s, staging %s, %s", r.Salt, r.LookupTemp, r.SourceTemp)
		for _, d := range report.Collections[r.Source] {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
	return nil
}
