// Package mongostore implements docstore.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/roach88/docmerge/internal/docstore"
)

// Store is a docstore.Store over one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ docstore.Store = (*Store)(nil)

// Open connects to uri, verifies the connection, and binds database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		return nil, fmt.Errorf("mongostore: database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(client, database), nil
}

// New binds an existing client to database.
func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// Database returns the database name.
func (s *Store) Database() string {
	return s.db.Name()
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) CollectionNames(ctx context.Context) ([]string, error) {
	return s.db.ListCollectionNames(ctx, bson.D{})
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string) error {
	return s.db.CreateCollection(ctx, name)
}

func (s *Store) DropCollection(ctx context.Context, name string) error {
	return s.db.Collection(name).Drop(ctx)
}

// RenameCollection issues renameCollection against the admin database;
// both namespaces stay within the bound database.
func (s *Store) RenameCollection(ctx context.Context, from, to string, dropTarget bool) error {
	cmd := bson.D{
		{Key: "renameCollection", Value: s.db.Name() + "." + from},
		{Key: "to", Value: s.db.Name() + "." + to},
		{Key: "dropTarget", Value: dropTarget},
	}
	return s.client.Database("admin").RunCommand(ctx, cmd).Err()
}

type indexSpec struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique,omitempty"`
	Sparse bool   `bson:"sparse,omitempty"`
}

func (s *Store) ListIndexes(ctx context.Context, collection string) ([]docstore.IndexDef, error) {
	cur, err := s.db.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var specs []indexSpec
	if err := cur.All(ctx, &specs); err != nil {
		return nil, err
	}
	out := make([]docstore.IndexDef, len(specs))
	for i, sp := range specs {
		out[i] = docstore.IndexDef{Name: sp.Name, Keys: sp.Key, Unique: sp.Unique, Sparse: sp.Sparse}
	}
	return out, nil
}

func (s *Store) CreateIndexes(ctx context.Context, collection string, indexes []docstore.IndexDef) error {
	if len(indexes) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, len(indexes))
	for i, ix := range indexes {
		opts := options.Index()
		if ix.Name != "" {
			opts.SetName(ix.Name)
		}
		if ix.Unique {
			opts.SetUnique(true)
		}
		if ix.Sparse {
			opts.SetSparse(true)
		}
		models[i] = mongo.IndexModel{Keys: ix.Keys, Options: opts}
	}
	_, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models)
	return err
}

func (s *Store) FindOne(ctx context.Context, collection string, filter bson.D) (bson.D, error) {
	var doc bson.D
	err := s.db.Collection(collection).FindOne(ctx, orEmpty(filter)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNoDocuments
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Find(ctx context.Context, collection string, filter, projection bson.D) ([]bson.D, error) {
	opts := options.Find()
	if len(projection) > 0 {
		opts.SetProjection(projection)
	}
	cur, err := s.db.Collection(collection).Find(ctx, orEmpty(filter), opts)
	if err != nil {
		return nil, err
	}
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []bson.D) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]interface{}, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	_, err := s.db.Collection(collection).InsertMany(ctx, batch)
	return err
}

func (s *Store) UpdateMany(ctx context.Context, collection string, filter, update bson.D) (int64, error) {
	res, err := s.db.Collection(collection).UpdateMany(ctx, orEmpty(filter), update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, filter bson.D) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, orEmpty(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Aggregate drains the cursor so pipelines ending in $out complete before
// returning.
func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []bson.D) error {
	cur, err := s.db.Collection(collection).Aggregate(ctx, mongo.Pipeline(pipeline))
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
	}
	return cur.Err()
}

func orEmpty(d bson.D) bson.D {
	if d == nil {
		return bson.D{}
	}
	return d
}
