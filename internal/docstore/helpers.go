package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/docmerge/internal/batch"
	"github.com/roach88/docmerge/internal/fault"
)

// IDFilter builds an _id filter. A 24-character hex string is parsed as an
// ObjectID; any other value is matched as is. A nil id yields an empty
// filter, which matches everything.
func IDFilter(id any) (bson.D, error) {
	switch v := id.(type) {
	case nil:
		return bson.D{}, nil
	case string:
		oid, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, fmt.Errorf("invalid object id %q: %w", v, err)
		}
		return bson.D{{Key: "_id", Value: oid}}, nil
	default:
		return bson.D{{Key: "_id", Value: v}}, nil
	}
}

// FindByID returns documents of collection matching id (see IDFilter).
func FindByID(ctx context.Context, st Store, collection string, id any, projection bson.D) ([]bson.D, error) {
	filter, err := IDFilter(id)
	if err != nil {
		return nil, err
	}
	return st.Find(ctx, collection, filter, projection)
}

// Move copies the documents of from matching filter into to and returns how
// many were copied. The source is left untouched.
func Move(ctx context.Context, st Store, from, to string, filter, projection bson.D) (int, error) {
	if filter == nil {
		filter = bson.D{}
	}
	docs, err := st.Find(ctx, from, filter, projection)
	if err != nil {
		return 0, fmt.Errorf("move: read %s: %w", from, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := st.InsertMany(ctx, to, docs); err != nil {
		return 0, fmt.Errorf("move: write %s: %w", to, err)
	}
	return len(docs), nil
}

// CleanupChildren deletes the child documents a parent references and
// clears the references. children maps a child collection to the parent
// field holding the child _id (or an array of them). An array field is reset
// to an empty array and a scalar field to null. The deletes and the parent
// update run concurrently; the number of deleted children is returned.
func CleanupChildren(ctx context.Context, st Store, collection string, id any, children map[string]string) (int64, error) {
	filter, err := IDFilter(id)
	if err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, fault.Validation("cleanup of %s needs a parent id", collection)
	}
	names := make([]string, 0, len(children))
	projection := bson.D{}
	for child, field := range children {
		names = append(names, child)
		projection = append(projection, bson.E{Key: field, Value: 1})
	}
	sort.Strings(names)
	sort.Slice(projection, func(i, j int) bool { return projection[i].Key < projection[j].Key })

	docs, err := st.Find(ctx, collection, filter, projection)
	if err != nil {
		return 0, fmt.Errorf("cleanup: read %s: %w", collection, err)
	}
	if len(docs) == 0 {
		return 0, fault.NotFound(collection, fmt.Sprintf("no document with id %v", id))
	}
	parent := docs[0]

	var deleted atomic.Int64
	set := bson.D{}
	ops := make([]batch.Op, 0, len(names)+1)
	for _, child := range names {
		field := children[child]
		ref, _ := Lookup(parent, field)
		var target bson.D
		switch v := ref.(type) {
		case bson.A:
			set = append(set, bson.E{Key: field, Value: bson.A{}})
			target = bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: v}}}}
		case []any:
			set = append(set, bson.E{Key: field, Value: bson.A{}})
			target = bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A(v)}}}}
		case nil:
			set = append(set, bson.E{Key: field, Value: nil})
		default:
			set = append(set, bson.E{Key: field, Value: nil})
			target = bson.D{{Key: "_id", Value: v}}
		}
		if target == nil {
			continue
		}
		ops = append(ops, func(ctx context.Context) error {
			n, err := st.DeleteMany(ctx, child, target)
			if err != nil {
				return fmt.Errorf("cleanup: delete from %s: %w", child, err)
			}
			deleted.Add(n)
			return nil
		})
	}
	if len(set) > 0 {
		ops = append(ops, func(ctx context.Context) error {
			if _, err := st.UpdateMany(ctx, collection, filter, bson.D{{Key: "$set", Value: set}}); err != nil {
				return fmt.Errorf("cleanup: update %s: %w", collection, err)
			}
			return nil
		})
	}
	if err := batch.Run(ctx, ops...); err != nil {
		return 0, err
	}
	return deleted.Load(), nil
}

// Lookup returns the value at key in d.
func Lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}
