package docstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/fault"
)

func TestIDFilter(t *testing.T) {
	oid := primitive.NewObjectID()

	f, err := docstore.IDFilter(oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: oid}}, f)

	f, err = docstore.IDFilter(7)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: 7}}, f)

	f, err = docstore.IDFilter(nil)
	require.NoError(t, err)
	assert.Empty(t, f)

	_, err = docstore.IDFilter("not-hex")
	assert.Error(t, err)
}

func TestMoveAndFindByID(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	oid := primitive.NewObjectID()
	require.NoError(t, st.Seed("from",
		bson.D{{Key: "_id", Value: oid}, {Key: "kind", Value: "a"}},
		bson.D{{Key: "_id", Value: 2}, {Key: "kind", Value: "b"}},
	))

	docs, err := docstore.FindByID(ctx, st, "from", oid.Hex(), nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	kind, _ := docstore.Lookup(docs[0], "kind")
	assert.Equal(t, "a", kind)

	n, err := docstore.Move(ctx, st, "from", "to", bson.D{{Key: "kind", Value: "b"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, st.Docs("from"), 2, "source is untouched")
	assert.Len(t, st.Docs("to"), 1)

	n, err = docstore.Move(ctx, st, "from", "to", bson.D{{Key: "kind", Value: "none"}}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupChildren(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("orders",
		bson.M{"_id": 1, "lines": bson.A{10, 11}, "invoice": 50, "note": nil},
		bson.M{"_id": 2, "lines": bson.A{12}, "invoice": 51},
	))
	require.NoError(t, st.Seed("lines", bson.M{"_id": 10}, bson.M{"_id": 11}, bson.M{"_id": 12}))
	require.NoError(t, st.Seed("invoices", bson.M{"_id": 50}, bson.M{"_id": 51}))
	require.NoError(t, st.Seed("notes", bson.M{"_id": 70}))

	n, err := docstore.CleanupChildren(ctx, st, "orders", 1, map[string]string{
		"lines":    "lines",
		"invoices": "invoice",
		"notes":    "note",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	docs, err := docstore.FindByID(ctx, st, "orders", 1, nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	lines, _ := docstore.Lookup(docs[0], "lines")
	assert.Empty(t, lines)
	assert.NotNil(t, lines)
	invoice, ok := docstore.Lookup(docs[0], "invoice")
	assert.True(t, ok)
	assert.Nil(t, invoice)

	assert.Len(t, st.Docs("lines"), 1, "lines of order 2 remain")
	assert.Len(t, st.Docs("invoices"), 1)
	assert.Len(t, st.Docs("notes"), 1)

	other, err := docstore.FindByID(ctx, st, "orders", 2, nil)
	require.NoError(t, err)
	kept, _ := docstore.Lookup(other[0], "invoice")
	assert.Equal(t, 51, kept)
}

func TestCleanupChildrenErrors(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.Seed("orders", bson.M{"_id": 1, "invoice": 50}))
	require.NoError(t, st.Seed("invoices", bson.M{"_id": 50}))
	children := map[string]string{"invoices": "invoice"}

	_, err := docstore.CleanupChildren(ctx, st, "orders", 9, children)
	assert.True(t, fault.IsNotFound(err))

	_, err = docstore.CleanupChildren(ctx, st, "orders", nil, children)
	assert.True(t, fault.IsValidation(err))

	boom := errors.New("boom")
	st.FailOn(memstore.OpDelete, "invoices", boom)
	_, err = docstore.CleanupChildren(ctx, st, "orders", 1, children)
	assert.ErrorIs(t, err, boom)
}
