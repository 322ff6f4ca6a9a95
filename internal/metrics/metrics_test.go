package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/merge"
)

func run(t *testing.T, m *Metrics, st *memstore.Store) error {
	t.Helper()
	_, err := merge.New(st, merge.WithObserver(m)).Run(context.Background(), merge.Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]merge.Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	})
	return err
}

func seeded(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	require.NoError(t, st.Seed("orders", bson.D{{Key: "custId", Value: "A"}}))
	require.NoError(t, st.Seed("customers", bson.D{{Key: "code", Value: "A"}, {Key: "name", Value: "Acme"}}))
	return st
}

func TestObserveRuns(t *testing.T) {
	m := New()
	require.NoError(t, run(t, m, seeded(t)))

	failing := seeded(t)
	failing.FailOn(memstore.OpAggregate, "orders", errors.New("boom"))
	require.Error(t, run(t, m, failing))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("orders", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("orders", "failure")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.stagingCreated))
	// One series per phase and outcome: four successes plus the failed merge-stage.
	assert.Equal(t, 5, testutil.CollectAndCount(m.phaseDuration))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Swept(3)
	path := filepath.Join(t.TempDir(), "docmerge.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "docmerge_swept_collections_total 3"))
}
