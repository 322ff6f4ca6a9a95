// Package docstore defines the document-store collaborator the merge engine
// drives, and small helpers built on it.
//
// Implementations:
//   - mongostore: MongoDB via the official driver
//   - memstore: in-memory, interpreting the pipeline subset the engine emits
//
// Every method is safe for concurrent use; the engine issues independent
// operations of one phase concurrently over a single Store.
package docstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrNoDocuments is returned by FindOne when nothing matches.
var ErrNoDocuments = errors.New("docstore: no documents in result")

// IDIndexName is the name of the implicit identity index.
const IDIndexName = "_id_"

// IndexDef describes one index.
type IndexDef struct {
	Name   string
	Keys   bson.D
	Unique bool
	Sparse bool
}

// Store is the data-store collaborator.
type Store interface {
	// CollectionNames lists every collection in the database.
	CollectionNames(ctx context.Context) ([]string, error)

	// CollectionExists reports whether name exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection creates an empty collection.
	CreateCollection(ctx context.Context, name string) error

	// DropCollection drops a collection. Dropping an absent collection is
	// not an error.
	DropCollection(ctx context.Context, name string) error

	// RenameCollection renames from to to. With dropTarget an existing
	// target is replaced in the same operation.
	RenameCollection(ctx context.Context, from, to string, dropTarget bool) error

	// ListIndexes returns index definitions including the identity index.
	ListIndexes(ctx context.Context, collection string) ([]IndexDef, error)

	// CreateIndexes creates indexes; existing identical indexes are kept.
	CreateIndexes(ctx context.Context, collection string, indexes []IndexDef) error

	// FindOne returns one document matching filter or ErrNoDocuments.
	FindOne(ctx context.Context, collection string, filter bson.D) (bson.D, error)

	// Find returns all documents matching filter, shaped by projection
	// (nil = whole documents).
	Find(ctx context.Context, collection string, filter, projection bson.D) ([]bson.D, error)

	// InsertMany inserts documents.
	InsertMany(ctx context.Context, collection string, docs []bson.D) error

	// UpdateMany applies update to every matching document and returns the
	// number of documents matched.
	UpdateMany(ctx context.Context, collection string, filter, update bson.D) (int64, error)

	// DeleteMany removes every matching document and returns how many were
	// removed. Deleting from an absent collection removes nothing.
	DeleteMany(ctx context.Context, collection string, filter bson.D) (int64, error)

	// Aggregate runs pipeline over collection to completion, discarding any
	// cursor output. Pipelines ending in $out materialize server side.
	Aggregate(ctx context.Context, collection string, pipeline []bson.D) error
}

// Finder is the read subset used by the projection mapper.
type Finder interface {
	FindOne(ctx context.Context, collection string, filter bson.D) (bson.D, error)
}

// Conn is a Store bound to a live connection.
type Conn interface {
	Store
	Close(ctx context.Context) error
}
