package staging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/goleak"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/keytoken"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func indexNames(t *testing.T, st docstore.Store, coll string) []string {
	t.Helper()
	ixs, err := st.ListIndexes(context.Background(), coll)
	require.NoError(t, err)
	var names []string
	for _, ix := range ixs {
		names = append(names, ix.Name)
	}
	return names
}

func TestHandleNaming(t *testing.T) {
	m := NewManager(memstore.New())
	rc := keytoken.RunContext{Salt: "s1"}

	lookup := m.Handle(PurposeLookupTemp, "orders", rc)
	source := m.Handle(PurposeSourceTemp, "orders", rc)

	assert.True(t, HasPrefix(DefaultPrefix)(lookup.Name))
	assert.Len(t, lookup.Name, len(DefaultPrefix)+keytoken.TokenLength)
	assert.NotEqual(t, lookup.Name, source.Name, "same base under different purposes must not collide")
	assert.Equal(t, lookup, m.Handle(PurposeLookupTemp, "orders", rc), "deterministic within a run")
	assert.NotEqual(t, lookup.Name, m.Handle(PurposeLookupTemp, "orders", keytoken.RunContext{Salt: "s2"}).Name)

	custom := NewManager(memstore.New(), WithPrefix("TMP_"))
	assert.Equal(t, "TMP_", custom.Handle(PurposeSourceTemp, "x", rc).Name[:4])
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	m := NewManager(st)
	spec := SingleField("k1", "k2")

	require.NoError(t, m.Ensure(ctx, "tmp", false, spec))
	assert.Equal(t, []string{"_id_", "k1_1", "k2_1"}, indexNames(t, st, "tmp"))

	require.NoError(t, st.Seed("tmp", bson.M{"k1": "x"}))

	t.Run("present without drop is a no-op", func(t *testing.T) {
		require.NoError(t, m.Ensure(ctx, "tmp", false, SingleField("other")))
		assert.Len(t, st.Docs("tmp"), 1)
		assert.Equal(t, []string{"_id_", "k1_1", "k2_1"}, indexNames(t, st, "tmp"))
	})

	t.Run("present with drop recreates", func(t *testing.T) {
		require.NoError(t, m.Ensure(ctx, "tmp", true, SingleField("other")))
		assert.Empty(t, st.Docs("tmp"))
		assert.Equal(t, []string{"_id_", "other_1"}, indexNames(t, st, "tmp"))
	})

	t.Run("nil spec", func(t *testing.T) {
		require.NoError(t, m.Ensure(ctx, "bare", false, nil))
		assert.Equal(t, []string{"_id_"}, indexNames(t, st, "bare"))
	})
}

func TestEnsureIndexShapes(t *testing.T) {
	ctx := context.Background()
	source := []docstore.IndexDef{
		{Name: "_id_", Keys: bson.D{{Key: "_id", Value: 1}}},
		{Name: "by_code", Keys: bson.D{{Key: "code", Value: 1}}, Unique: true},
		{Name: "a_1_b_-1", Keys: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: -1}}},
	}

	tests := []struct {
		name string
		spec IndexSpec
		want []string
	}{
		{"key options list", KeyOptionsList{
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: IndexOptions{Name: "by_code", Unique: true}},
			{Keys: bson.D{{Key: "a", Value: 1}, {Key: "b", Value: -1}}},
		}, []string{"_id_", "by_code", "a_1_b_-1"}},
		{"index information", Information(source), []string{"_id_", "a_1_b_-1", "by_code"}},
		{"index list", IndexList(source), []string{"_id_", "by_code", "a_1_b_-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memstore.New()
			require.NoError(t, NewManager(st).Ensure(ctx, "c", false, tt.spec))
			assert.Equal(t, tt.want, indexNames(t, st, "c"))
		})
	}

	_, err := IndexInformation{"bad": {{"only-field"}}}.Defs()
	assert.True(t, fault.IsValidation(err))
	_, err = KeyOptionsList{{}}.Defs()
	assert.True(t, fault.IsValidation(err))
}

func TestIndexListPreservesOptions(t *testing.T) {
	defs, err := IndexList{
		{Name: "_id_", Keys: bson.D{{Key: "_id", Value: 1}}},
		{Name: "u", Keys: bson.D{{Key: "u", Value: 1}}, Unique: true, Sparse: true},
	}.Defs()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.True(t, defs[0].Unique)
	assert.True(t, defs[0].Sparse)
}

func TestDropAndSweep(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	m := NewManager(st)
	for _, n := range []string{"AG_1", "AG_2", "orders", "xAG_3"} {
		require.NoError(t, st.CreateCollection(ctx, n))
	}

	require.NoError(t, m.Drop(ctx, "absent"))

	swept, err := m.Sweep(ctx, HasPrefix(DefaultPrefix))
	require.NoError(t, err)
	assert.Equal(t, []string{"AG_1", "AG_2"}, swept)

	names, err := st.CollectionNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "xAG_3"}, names)

	swept, err = m.Sweep(ctx, Names("xAG_3", "nope"))
	require.NoError(t, err)
	assert.Equal(t, []string{"xAG_3"}, swept)
}

func TestSweepFailurePropagates(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	boom := errors.New("drop refused")
	for _, n := range []string{"AG_1", "AG_2"} {
		require.NoError(t, st.CreateCollection(ctx, n))
	}
	st.FailOn(memstore.OpDrop, "AG_2", boom)

	_, err := NewManager(st).Sweep(ctx, HasPrefix(DefaultPrefix))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, fault.IsOperation(err))
}
