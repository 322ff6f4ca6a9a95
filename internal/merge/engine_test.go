package merge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/goleak"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/keytoken"
	"github.com/roach88/docmerge/internal/staging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newEngine(st docstore.Store, opts ...Option) *Engine {
	return New(st, append([]Option{WithSaltSource(keytoken.NewFixedSource("run-a", "run-b", "run-c"))}, opts...)...)
}

// docsWithoutID returns documents as maps with _id removed.
func docsWithoutID(t *testing.T, st *memstore.Store, coll string) []bson.M {
	t.Helper()
	var out []bson.M
	for _, d := range st.Docs(coll) {
		m := bson.M{}
		for _, e := range d {
			if e.Key != "_id" {
				m[e.Key] = e.Value
			}
		}
		out = append(out, m)
	}
	return out
}

func collectionNames(t *testing.T, st *memstore.Store) []string {
	t.Helper()
	names, err := st.CollectionNames(context.Background())
	require.NoError(t, err)
	return names
}

func acmeStore(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	require.NoError(t, st.Seed("orders", bson.D{{Key: "id", Value: 1}, {Key: "custId", Value: "A"}}))
	require.NoError(t, st.Seed("customers", bson.D{{Key: "id", Value: 10}, {Key: "code", Value: "A"}, {Key: "name", Value: "Acme"}}))
	return st
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := acmeStore(t)
	before := st.Docs("orders")

	res, err := newEngine(st).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{
			"name": {SourceKey: "custId", LookupKey: "code", RenameTo: "customerName"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []bson.M{{"id": 1, "custId": "A", "customerName": "Acme"}}, docsWithoutID(t, st, "orders"))
	id, _ := docstore.Lookup(st.Docs("orders")[0], "_id")
	beforeID, _ := docstore.Lookup(before[0], "_id")
	assert.Equal(t, beforeID, id, "identity is preserved")

	assert.Equal(t, []string{"customers", "orders"}, collectionNames(t, st), "no staging collection survives")
	assert.Equal(t, 1, res.JoinKeys)
	assert.Equal(t, int64(1), res.Renamed)
	assert.Len(t, res.Durations, 4)
}

func TestRunEndToEndDefault(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("orders", bson.D{{Key: "id", Value: 1}, {Key: "custId", Value: "A"}}))
	require.NoError(t, st.CreateCollection(ctx, "customers"))

	res, err := newEngine(st).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{
			"name": {SourceKey: "custId", LookupKey: "code", RenameTo: "customerName", Default: "Unknown"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"id": 1, "custId": "A", "customerName": "Unknown"}}, docsWithoutID(t, st, "orders"))
	assert.Equal(t, int64(1), res.Defaulted)
	assert.Equal(t, int64(0), res.Renamed)
}

func TestRunEmptyMappingIsIdentity(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("things",
		bson.D{{Key: "_id", Value: 1}, {Key: "a", Value: "x"}, {Key: "n", Value: bson.D{{Key: "k", Value: 1}}}},
		bson.D{{Key: "_id", Value: 2}, {Key: "a", Value: "y"}, {Key: "n", Value: nil}},
	))
	require.NoError(t, st.CreateCollection(ctx, "other"))
	before := st.Docs("things")

	_, err := newEngine(st).Run(ctx, Request{Source: "things", Lookup: "other"})
	require.NoError(t, err)
	assert.Equal(t, before, st.Docs("things"))
}

func TestRunSharedJoinKey(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("shipments",
		bson.D{{Key: "_id", Value: 1}, {Key: "from", Value: "A"}, {Key: "to", Value: "B"}},
		bson.D{{Key: "_id", Value: 2}, {Key: "from", Value: "B"}, {Key: "to", Value: "Z"}},
	))
	require.NoError(t, st.Seed("sites",
		bson.D{{Key: "code", Value: "A"}, {Key: "name", Value: "Aachen"}, {Key: "city", Value: "AC"}},
		bson.D{{Key: "code", Value: "B"}, {Key: "name", Value: "Berlin"}, {Key: "city", Value: "BE"}},
	))

	req := Request{
		Source: "shipments",
		Lookup: "sites",
		Fields: map[string]Spec{
			"name": {SourceKey: "from", LookupKey: "code", RenameTo: "fromName"},
			"city": {SourceKey: "to", LookupKey: "$code", RenameTo: "toCity", Default: "n/a"},
		},
	}
	e := newEngine(st)
	plan, err := e.Plan(req, keytoken.RunContext{Salt: "s"})
	require.NoError(t, err)
	assert.Len(t, plan.JoinKeys, 1, "identical expressions share one join key")
	assert.Len(t, plan.Joins, 2, "distinct source keys need distinct joins")
	assert.Len(t, plan.Outputs, 2)

	_, err = e.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []bson.M{
		{"from": "A", "to": "B", "fromName": "Aachen", "toCity": "BE"},
		{"from": "B", "to": "Z", "fromName": "Berlin", "toCity": "n/a"},
	}, docsWithoutID(t, st, "shipments"))
}

func TestPlanSharesJoinForSamePair(t *testing.T) {
	e := newEngine(memstore.New())
	plan, err := e.Plan(Request{
		Source: "s",
		Lookup: "l",
		Fields: map[string]Spec{
			"name": {SourceKey: "k", LookupKey: "code"},
			"city": {SourceKey: "k", LookupKey: "code"},
		},
	}, keytoken.RunContext{Salt: "s"})
	require.NoError(t, err)
	require.Len(t, plan.Joins, 1)
	require.Len(t, plan.Outputs, 2)
	assert.Equal(t, plan.Outputs[0].Join, plan.Outputs[1].Join)
	assert.NotEqual(t, plan.Outputs[0].Alias, plan.Outputs[1].Alias)
}

func TestRunLeftOuter(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("people",
		bson.D{{Key: "_id", Value: 1}, {Key: "dept", Value: "eng"}, {Key: "extra", Value: true}},
		bson.D{{Key: "_id", Value: 2}, {Key: "dept", Value: "ops"}, {Key: "extra", Value: false}},
	))
	require.NoError(t, st.Seed("depts", bson.D{{Key: "key", Value: "eng"}, {Key: "title", Value: "Engineering"}, {Key: "floor", Value: 3}}))

	_, err := newEngine(st).Run(ctx, Request{
		Source: "people",
		Lookup: "depts",
		Fields: map[string]Spec{
			"title": {SourceKey: "dept", LookupKey: "key", Default: "Unassigned"},
			"floor": {SourceKey: "dept", LookupKey: "key"},
		},
	})
	require.NoError(t, err)

	docs := docsWithoutID(t, st, "people")
	assert.Equal(t, bson.M{"dept": "eng", "extra": true, "title": "Engineering", "floor": 3}, docs[0])
	assert.Equal(t, bson.M{"dept": "ops", "extra": false, "title": "Unassigned"}, docs[1])
	assert.NotContains(t, docs[1], "floor", "no default means absent, not null")
}

func TestRunRenameToWins(t *testing.T) {
	ctx := context.Background()
	st := acmeStore(t)
	_, err := newEngine(st).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{
			"name": {SourceKey: "custId", LookupKey: "code", RenameTo: "custId"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"id": 1, "custId": "Acme"}}, docsWithoutID(t, st, "orders"))
}

func TestRunPreservesSourceIndexes(t *testing.T) {
	ctx := context.Background()
	st := acmeStore(t)
	require.NoError(t, st.CreateIndexes(ctx, "orders", []docstore.IndexDef{
		{Name: "by_cust", Keys: bson.D{{Key: "custId", Value: 1}}},
		{Name: "uniq_id", Keys: bson.D{{Key: "id", Value: 1}}, Unique: true},
		{Name: "compound", Keys: bson.D{{Key: "custId", Value: 1}, {Key: "id", Value: -1}}, Sparse: true},
	}))
	before, err := st.ListIndexes(ctx, "orders")
	require.NoError(t, err)

	_, err = newEngine(st).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	})
	require.NoError(t, err)

	after, err := st.ListIndexes(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunComputedExpression(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("orders", bson.D{{Key: "_id", Value: 1}, {Key: "key", Value: "acme-7"}}))
	require.NoError(t, st.Seed("customers", bson.D{{Key: "brand", Value: "ACME"}, {Key: "num", Value: 7}, {Key: "name", Value: "Acme Corp"}}))

	_, err := newEngine(st).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{
			"name": {SourceKey: "key", LookupKey: bson.D{{Key: "$concat", Value: bson.A{
				bson.D{{Key: "$toLower", Value: "$brand"}}, "-", bson.D{{Key: "$toString", Value: "$num"}},
			}}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"key": "acme-7", "name": "Acme Corp"}}, docsWithoutID(t, st, "orders"))
}

func TestRunWithPreStages(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("orders", bson.D{{Key: "_id", Value: 1}, {Key: "custId", Value: "A"}}))
	require.NoError(t, st.Seed("customers",
		bson.D{{Key: "code", Value: "A"}, {Key: "name", Value: "Old"}, {Key: "active", Value: false}},
		bson.D{{Key: "code", Value: "A"}, {Key: "name", Value: "Current"}, {Key: "active", Value: true}},
	))

	_, err := newEngine(st).Run(ctx, Request{
		Source:    "orders",
		Lookup:    "customers",
		Fields:    map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
		PreStages: preStages(bson.D{{Key: "$match", Value: bson.D{{Key: "active", Value: true}}}}),
	})
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"custId": "A", "name": "Current"}}, docsWithoutID(t, st, "orders"))
}

func TestRunSelfLookup(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("nodes",
		bson.D{{Key: "_id", Value: 1}, {Key: "code", Value: "root"}, {Key: "parent", Value: nil}, {Key: "label", Value: "Root"}},
		bson.D{{Key: "_id", Value: 2}, {Key: "code", Value: "leaf"}, {Key: "parent", Value: "root"}, {Key: "label", Value: "Leaf"}},
	))

	_, err := newEngine(st).Run(ctx, Request{
		Source: "nodes",
		Lookup: "nodes",
		Fields: map[string]Spec{"label": {SourceKey: "parent", LookupKey: "code", RenameTo: "parentLabel"}},
	})
	require.NoError(t, err)
	docs := docsWithoutID(t, st, "nodes")
	assert.Equal(t, "Root", docs[1]["parentLabel"])
	assert.Equal(t, []string{"nodes"}, collectionNames(t, st))
}

func TestRunValidationBeforeIO(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{"no source", Request{Lookup: "l"}, "source collection is required"},
		{"no lookup", Request{Source: "s"}, "lookup collection is required"},
		{"missing sourceKey", Request{Source: "s", Lookup: "l", Fields: map[string]Spec{"f": {LookupKey: "k"}}}, "sourceKey is required"},
		{"missing lookupKey", Request{Source: "s", Lookup: "l", Fields: map[string]Spec{"f": {SourceKey: "k"}}}, "lookupKey is required"},
		{"blank lookupKey", Request{Source: "s", Lookup: "l", Fields: map[string]Spec{"f": {SourceKey: "k", LookupKey: "$"}}}, "lookupKey is required"},
		{"dotted field", Request{Source: "s", Lookup: "l", Fields: map[string]Spec{"a.b": {SourceKey: "k", LookupKey: "k"}}}, "may not contain"},
		{"id output", Request{Source: "s", Lookup: "l", Fields: map[string]Spec{"f": {SourceKey: "k", LookupKey: "k", RenameTo: "_id"}}}, "may not be _id"},
		{"duplicate output", Request{Source: "s", Lookup: "l", Fields: map[string]Spec{
			"a": {SourceKey: "k", LookupKey: "k", RenameTo: "out"},
			"b": {SourceKey: "k", LookupKey: "k", RenameTo: "out"},
		}}, "both write output"},
		{"sourceKey reference", Request{Source: "s", Lookup: "l", Fields: map[string]Spec{"f": {SourceKey: "$k", LookupKey: "k"}}}, "plain field path"},
		{"bad pre-stage", Request{Source: "s", Lookup: "l", PreStages: preStages(bson.D{{Key: "$out", Value: "x"}})}, "may not write"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memstore.New()
			_, err := New(st).Run(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, fault.IsValidation(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Empty(t, st.Calls(), "validation must not touch the store")
		})
	}
}

func TestRunEmptySourceIsNotFound(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.CreateCollection(ctx, "orders"))
	require.NoError(t, st.Seed("customers", bson.D{{Key: "code", Value: "A"}}))

	_, err := newEngine(st).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	})
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
	assert.True(t, strings.HasPrefix(err.Error(), string(PhaseLookupStage)))
}

func TestRunRenameFailureLeavesResultStaged(t *testing.T) {
	ctx := context.Background()
	st := acmeStore(t)
	boom := errors.New("rename refused")
	st.FailOn(memstore.OpRename, "", boom)

	e := newEngine(st)
	_, err := e.Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, fault.IsOperation(err))

	names := collectionNames(t, st)
	assert.NotContains(t, names, "orders", "source was dropped before the rename")
	require.Len(t, names, 2)
	staged := names[0]
	assert.True(t, strings.HasPrefix(staged, staging.DefaultPrefix))
	assert.Equal(t, []bson.M{{"id": 1, "custId": "A", "name": "Acme"}}, docsWithoutID(t, st, staged))

	swept, err := e.Staging().Sweep(ctx, staging.HasPrefix(staging.DefaultPrefix))
	require.NoError(t, err)
	assert.Equal(t, []string{staged}, swept)
}

func TestRunOverwriteRenameKeepsSourceOnFailure(t *testing.T) {
	ctx := context.Background()
	st := acmeStore(t)
	st.FailOn(memstore.OpRename, "", errors.New("rename refused"))

	_, err := newEngine(st, WithSwapMode(SwapOverwriteRename)).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	})
	require.Error(t, err)
	assert.Equal(t, []bson.M{{"id": 1, "custId": "A"}}, docsWithoutID(t, st, "orders"))
}

func TestRunOverwriteRename(t *testing.T) {
	ctx := context.Background()
	st := acmeStore(t)
	_, err := newEngine(st, WithSwapMode(SwapOverwriteRename)).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []bson.M{{"id": 1, "custId": "A", "name": "Acme"}}, docsWithoutID(t, st, "orders"))

	for _, c := range st.Calls() {
		if c.Op == memstore.OpDrop {
			assert.NotEqual(t, "orders", c.Collection, "overwrite mode never drops the source explicitly")
		}
	}
}

func TestRunTerminalRenameIsLast(t *testing.T) {
	st := acmeStore(t)
	_, err := newEngine(st).Run(context.Background(), Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code", Default: "?"}},
	})
	require.NoError(t, err)

	calls := st.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, memstore.OpRename, last.Op)
	assert.Equal(t, memstore.OpUpdate, calls[len(calls)-2].Op, "field renames precede the swap")
}

func TestRunEmitsEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	st := acmeStore(t)
	_, err := newEngine(st, WithObserver(obs)).Run(context.Background(), Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	})
	require.NoError(t, err)

	var phases []Phase
	counts := map[EventKind]int{}
	for _, e := range events {
		counts[e.Kind]++
		if e.Kind == EventPhaseFinished {
			require.NoError(t, e.Err)
			phases = append(phases, e.Phase)
		}
	}
	assert.Equal(t, Phases, phases)
	assert.Equal(t, EventRunStarted, events[0].Kind)
	assert.Equal(t, EventRunFinished, events[len(events)-1].Kind)
	assert.Equal(t, 2, counts[EventStagingCreated])
	assert.Equal(t, 1, counts[EventStagingDropped])
	assert.Equal(t, 1, counts[EventSwapPending])
	assert.Equal(t, 1, counts[EventSwapCompleted])
}

func TestPlanDeterminism(t *testing.T) {
	e := newEngine(memstore.New())
	req := Request{
		Source: "orders",
		Lookup: "orders",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	}
	a, err := e.Plan(req, keytoken.RunContext{Salt: "s1"})
	require.NoError(t, err)
	b, err := e.Plan(req, keytoken.RunContext{Salt: "s1"})
	require.NoError(t, err)
	c, err := e.Plan(req, keytoken.RunContext{Salt: "s2"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.JoinKeys[0].Token, c.JoinKeys[0].Token)
	assert.NotEqual(t, a.LookupTemp.Name, a.SourceTemp.Name, "self-lookup still gets two staging collections")
	assert.NotEqual(t, a.JoinKeys[0].Token, a.Joins[0].Field)
	assert.NotEqual(t, a.Joins[0].Field, a.Outputs[0].Alias)
}

func TestParseSwapMode(t *testing.T) {
	m, err := ParseSwapMode("")
	require.NoError(t, err)
	assert.Equal(t, SwapDropThenRename, m)
	m, err = ParseSwapMode("overwrite-rename")
	require.NoError(t, err)
	assert.Equal(t, SwapOverwriteRename, m)
	_, err = ParseSwapMode("yolo")
	assert.Error(t, err)
}

func TestRunNoFanOut(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("orders", bson.D{{Key: "id", Value: 1}, {Key: "custId", Value: "A"}}))
	require.NoError(t, st.Seed("customers",
		bson.D{{Key: "code", Value: "A"}, {Key: "name", Value: "Acme"}},
		bson.D{{Key: "code", Value: "A"}, {Key: "name", Value: "Acme Ltd"}},
	))

	_, err := newEngine(st).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{"name": {SourceKey: "custId", LookupKey: "code"}},
	})
	require.NoError(t, err)

	docs := docsWithoutID(t, st, "orders")
	require.Len(t, docs, 1, "several matches never multiply the source document")
	assert.Equal(t, "Acme", docs[0]["name"])
}

func TestRunMissingKeysDoNotMatch(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("orders",
		bson.D{{Key: "id", Value: 1}, {Key: "custId", Value: "A"}},
		bson.D{{Key: "id", Value: 2}},
		bson.D{{Key: "id", Value: 3}, {Key: "custId", Value: nil}},
	))
	require.NoError(t, st.Seed("customers",
		bson.D{{Key: "code", Value: "A"}, {Key: "name", Value: "Acme"}},
		bson.D{{Key: "name", Value: "NoCode"}},
		bson.D{{Key: "code", Value: nil}, {Key: "name", Value: "NullCode"}},
	))

	_, err := newEngine(st).Run(ctx, Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]Spec{
			"name": {SourceKey: "custId", LookupKey: "code"},
			"tier": {SourceKey: "custId", LookupKey: "code", Default: "none"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []bson.M{
		{"id": 1, "custId": "A", "name": "Acme", "tier": "none"},
		{"id": 2, "tier": "none"},
		{"id": 3, "custId": nil, "tier": "none"},
	}, docsWithoutID(t, st, "orders"))
}

func TestRunLiteralLookupKey(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("orders",
		bson.D{{Key: "id", Value: 1}, {Key: "flag", Value: 5}},
		bson.D{{Key: "id", Value: 2}, {Key: "flag", Value: 6}},
	))
	require.NoError(t, st.Seed("settings", bson.D{{Key: "label", Value: "five"}}))

	e := newEngine(st)
	req := Request{
		Source: "orders",
		Lookup: "settings",
		Fields: map[string]Spec{"label": {SourceKey: "flag", LookupKey: 5}},
	}
	plan, err := e.Plan(req, keytoken.RunContext{Salt: "s"})
	require.NoError(t, err)
	v, ok := plan.LookupProjection.Get(plan.JoinKeys[0].Token)
	require.True(t, ok)
	assert.Equal(t, bson.D{{Key: "$ifNull", Value: bson.A{
		bson.D{{Key: "$literal", Value: 5}},
		keytoken.RunContext{Salt: "s"}.MissingKeyToken(),
	}}}, v)

	_, err = e.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []bson.M{
		{"id": 1, "flag": 5, "label": "five"},
		{"id": 2, "flag": 6},
	}, docsWithoutID(t, st, "orders"))
}
