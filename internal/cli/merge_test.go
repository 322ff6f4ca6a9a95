package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/journal"
)

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	require.NoError(t, st.Seed("orders", bson.D{{Key: "id", Value: 1}, {Key: "custId", Value: "A"}}, bson.D{{Key: "id", Value: 2}, {Key: "custId", Value: "Z"}}))
	require.NoError(t, st.Seed("customers", bson.D{{Key: "code", Value: "A"}, {Key: "name", Value: "Acme"}}))
	return st
}

func TestMergeDryRun(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewMergeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dry-run", "--seed", "testdata/seed.yaml", "testdata/orders.yaml"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "✓ orders <- customers: 1 field(s), 1 renamed, 1 defaulted")
	assert.Contains(t, out, `"customerName":"Acme"`)
	assert.Contains(t, out, `"customerName":"Unknown"`)
}

func TestMergeDryRunJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewMergeCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dry-run", "--seed", "testdata/seed.yaml", "testdata/orders.yaml", "testdata/orders.cue"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string      `json:"status"`
		Data   MergeReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Results, 2)
	assert.Equal(t, int64(1), resp.Data.Results[0].Renamed)
	// The second request merges into the already merged orders.
	require.Len(t, resp.Data.Collections["orders"], 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal(resp.Data.Collections["orders"][0], &first))
	assert.Equal(t, "Acme", first["customerName"])
	assert.Equal(t, "Gold", first["tier"])
	var second map[string]any
	require.NoError(t, json.Unmarshal(resp.Data.Collections["orders"][1], &second))
	assert.Equal(t, "Unknown", second["customerName"])
	assert.Equal(t, "none", second["tier"])
}

func TestMergeDryRunFailure(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewMergeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	// The source collection exists but has no document to take its shape from.
	cmd.SetArgs([]string{"--dry-run", "--seed", "testdata/empty_seed.yaml", "testdata/orders.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "DOCMERGE_NOT_FOUND")
}

func TestMergeDryRunMissingSource(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewMergeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dry-run", "testdata/orders.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "DOCMERGE_OPERATION_FAILED")
}

func TestMergeInvalidRequest(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewMergeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dry-run", "testdata/invalid.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "DOCMERGE_VALIDATION")
}

func TestMergeMissingFile(t *testing.T) {
	cmd := NewMergeCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/request.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMergeSeedRequiresDryRun(t *testing.T) {
	cmd := NewMergeCommand(&RootOptions{Format: "text", OpenStore: memOpener(memstore.New())})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--seed", "testdata/seed.yaml", "testdata/orders.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMergeWithJournalAndMetrics(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	promPath := filepath.Join(dir, "docmerge.prom")
	st := seededStore(t)

	buf := &bytes.Buffer{}
	root := newRootCommand(&RootOptions{OpenStore: memOpener(st)})
	root.SetOut(buf)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"merge", "--journal", dbPath, "--metrics-textfile", promPath, "--prefix", "TMP_", "testdata/orders.yaml"})

	require.NoError(t, root.Execute(), buf.String())
	assert.Contains(t, buf.String(), "✓ orders <- customers")

	docs := st.Docs("orders")
	require.Len(t, docs, 2)
	name, ok := docstore.Lookup(docs[0], "customerName")
	require.True(t, ok)
	assert.Equal(t, "Acme", name)
	names, err := st.CollectionNames(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"customers", "orders"}, names)

	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer j.Close()
	runs, err := j.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "succeeded", runs[0].Status)

	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `docmerge_runs_total{outcome="success",source="orders"} 1`)
}

func TestMergeFailureIsJournaled(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")
	st := seededStore(t)
	st.FailOn(memstore.OpRename, "", errors.New("crash"))

	root := newRootCommand(&RootOptions{OpenStore: memOpener(st)})
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"merge", "--journal", dbPath, "testdata/orders.yaml"})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "DOCMERGE_OPERATION_FAILED")

	j, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer j.Close()
	pending, err := j.PendingSwaps(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "orders", pending[0].Target)
}
