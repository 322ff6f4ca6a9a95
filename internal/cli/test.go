package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docmerge/internal/harness"
)

// Golden comparison outcomes.
const (
	goldenNone     = "none"
	goldenMatched  = "matched"
	goldenMismatch = "mismatch"
	goldenUpdated  = "updated"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden"`
	Events int      `json:"events"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult summarizes a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run merge scenarios",
		Long: `Run merge scenarios against an in-memory store.

Each scenario seeds collections, runs one request (optionally with injected
store failures and recovery) and checks the final collections, indexes and
events. A scenario with a golden file in the sibling golden/ directory must
also reproduce its event trace exactly.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  docmerge test ./testdata/scenarios
  docmerge test ./testdata/scenarios --filter "recover_*"
  docmerge test ./testdata/scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current run")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	result := TestResult{Scenarios: []ScenarioResult{}, Total: len(files)}
	for _, f := range files {
		r := checkScenario(f, opts.Update)
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, r)
		if text {
			printScenario(w, r)
		}
	}

	var failure error
	if result.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	if !text {
		resp := CLIResponse{Status: "ok", Data: result}
		if failure != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "DOCMERGE_SCENARIO_FAILED", Message: failure.Error()}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
		return failure
	}

	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if failure == nil {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
	return failure
}

// findScenarioFiles walks dir for .yaml and .yml files whose base name
// (without extension) matches filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// checkScenario loads, runs and verifies one scenario file.
func checkScenario(file string, update bool) ScenarioResult {
	r := ScenarioResult{Name: filepath.Base(file), File: file, Golden: goldenNone}
	fail := func(format string, args ...any) ScenarioResult {
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
		return r
	}

	s, err := harness.LoadScenario(file)
	if err != nil {
		return fail("load: %v", err)
	}
	r.Name = s.Name

	res, err := harness.Run(s)
	if err != nil {
		return fail("run: %v", err)
	}
	r.Events = len(res.Events)
	for _, e := range res.Errors {
		r.Errors = append(r.Errors, e.Error())
	}

	r.Golden, err = reconcileGolden(s, res, goldenFilePath(file), update)
	if err != nil {
		return fail("golden: %v", err)
	}
	if r.Golden == goldenMismatch {
		r.Errors = append(r.Errors, "snapshot does not match golden file (run with --update to regenerate)")
	}
	r.Pass = len(r.Errors) == 0
	return r
}

// reconcileGolden compares the run snapshot with path, or rewrites path
// when update is set. A missing golden file is not a failure.
func reconcileGolden(s *harness.Scenario, res *harness.Result, path string, update bool) (string, error) {
	snap, err := harness.MarshalSnapshot(s, res)
	if err != nil {
		return "", err
	}
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, snap, 0o644); err != nil {
			return "", err
		}
		return goldenUpdated, nil
	}
	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return goldenNone, nil
	}
	if err != nil {
		return "", err
	}
	if !bytes.Equal(want, snap) {
		return goldenMismatch, nil
	}
	return goldenMatched, nil
}

// goldenFilePath maps <root>/scenarios/<name>.yaml to
// <root>/golden/<name>.golden.
func goldenFilePath(scenarioFile string) string {
	root := filepath.Dir(filepath.Dir(scenarioFile))
	base := filepath.Base(scenarioFile)
	return filepath.Join(root, "golden", strings.TrimSuffix(base, filepath.Ext(base))+".golden")
}

func printScenario(w io.Writer, r ScenarioResult) {
	if !r.Pass {
		fmt.Fprintf(w, "✗ %s\n", r.Name)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return
	}
	switch r.Golden {
	case goldenUpdated:
		fmt.Fprintf(w, "✓ %s (golden updated)\n", r.Name)
	case goldenMatched:
		fmt.Fprintf(w, "✓ %s (%d events, golden)\n", r.Name, r.Events)
	default:
		fmt.Fprintf(w, "✓ %s (%d events)\n", r.Name, r.Events)
	}
}
