//go:build integration

package mongostore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/docstore"
)

func startMongo(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	st, err := Open(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "docmerge_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(ctx) })
	return st
}

func TestStoreAgainstMongo(t *testing.T) {
	st := startMongo(t)
	ctx := context.Background()

	require.NoError(t, st.InsertMany(ctx, "src", []bson.D{
		{{Key: "_id", Value: 1}, {Key: "code", Value: "A"}},
		{{Key: "_id", Value: 2}, {Key: "code", Value: "B"}},
	}))
	require.NoError(t, st.CreateIndexes(ctx, "src", []docstore.IndexDef{{Name: "code_1", Keys: bson.D{{Key: "code", Value: 1}}, Unique: true}}))

	ixs, err := st.ListIndexes(ctx, "src")
	require.NoError(t, err)
	require.Len(t, ixs, 2)
	assert.True(t, ixs[1].Unique)

	doc, err := st.FindOne(ctx, "src", bson.D{{Key: "code", Value: "B"}})
	require.NoError(t, err)
	v, _ := docstore.Lookup(doc, "_id")
	assert.EqualValues(t, 2, v)

	_, err = st.FindOne(ctx, "src", bson.D{{Key: "code", Value: "Z"}})
	assert.ErrorIs(t, err, docstore.ErrNoDocuments)

	require.NoError(t, st.Aggregate(ctx, "src", []bson.D{
		{{Key: "$project", Value: bson.D{{Key: "k", Value: bson.D{{Key: "$toLower", Value: "$code"}}}}}},
		{{Key: "$out", Value: "tmp"}},
	}))
	docs, err := st.Find(ctx, "tmp", nil, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	n, err := st.UpdateMany(ctx, "tmp", bson.D{{Key: "k", Value: "a"}}, bson.D{{Key: "$rename", Value: bson.D{{Key: "k", Value: "key"}}}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = st.DeleteMany(ctx, "tmp", bson.D{{Key: "key", Value: "a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, st.RenameCollection(ctx, "tmp", "src", true))
	ok, err := st.CollectionExists(ctx, "tmp")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.DropCollection(ctx, "src"))
	require.NoError(t, st.DropCollection(ctx, "src"))
}
