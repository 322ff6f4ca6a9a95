package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/fault"
)

// CleanupOptions holds flags for the cleanup command.
type CleanupOptions struct {
	*RootOptions
	Children map[string]string
}

// CleanupResult reports a child cleanup.
type CleanupResult struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Children   []string `json:"children"`
	Deleted    int64    `json:"deleted"`
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cleanup <collection> <id>",
		Short: "Delete the child documents a document references",
		Long: `Delete the child documents referenced by one document and clear the
references.

Each --child names a child collection and the parent field holding the
child _id, or an array of them. Array fields are reset to [] and scalar
fields to null. The id is an ObjectID in hex or an integer.

Example:
  docmerge cleanup orders 64b7f0c2a1e4d3b2c1a09f88 --child lines=lineIds --child invoices=invoiceId`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringToStringVar(&opts.Children, "child", nil, "child collection and referencing field, as collection=field")

	return cmd
}

func runCleanup(opts *CleanupOptions, collection, rawID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if len(opts.Children) == 0 {
		return formatter.Fail(ExitCommandError, "nothing to clean up", fault.Validation("at least one --child is required"))
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	e, err := opts.openEnv(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare cleanup", err)
	}
	defer func() {
		if err := e.close(); err != nil {
			opts.Logger(cmd).Warn("closing cleanup resources failed", "error", err)
		}
	}()

	st, err := e.store(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to prepare cleanup", err)
	}

	n, err := docstore.CleanupChildren(ctx, st, collection, parseID(rawID), opts.Children)
	if err != nil {
		return formatter.Fail(ExitFailure, "cleanup failed", err)
	}
	opts.Logger(cmd).Info("children cleaned up", "collection", collection, "id", rawID, "deleted", n)

	result := CleanupResult{Collection: collection, ID: rawID, Deleted: n}
	for c := range opts.Children {
		result.Children = append(result.Children, c)
	}
	sort.Strings(result.Children)

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "Deleted %d child document(s) of %s %s\n", n, collection, rawID)
	return nil
}

// parseID reads an integer id as a number and leaves anything else to
// docstore.IDFilter.
func parseID(raw string) any {
	if len(raw) != 24 {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	}
	return raw
}
