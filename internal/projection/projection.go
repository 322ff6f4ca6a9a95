// Package projection builds identity projections: field specs that
// reproduce a collection's document shape inside an aggregation pipeline,
// where every retained field must be named explicitly.
package projection

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/keytoken"
	"github.com/roach88/docmerge/internal/pipeline"
)

// Options shape the generated field references.
type Options struct {
	// Accumulator wraps each reference as {<Accumulator>: "$field"}, for
	// grouped projections (e.g. "$first").
	Accumulator string

	// Aggregated references "$_id.field", the shape of fields after a
	// $group keyed on a document.
	Aggregated bool

	// IncludeID keeps the identity field; by default it is excluded.
	IncludeID bool
}

// ExpressionMapping maps each field to a reference per opts. Unless
// IncludeID, the identity field is excluded with a leading `_id: 0`.
func ExpressionMapping(fields []string, opts Options) pipeline.FieldSpec {
	var fs pipeline.FieldSpec
	if !opts.IncludeID {
		fs.Set("_id", 0)
	}
	for _, f := range fields {
		if f == "_id" && !opts.IncludeID {
			continue
		}
		fs.Set(f, reference(f, opts))
	}
	return fs
}

func reference(field string, opts Options) any {
	ref := keytoken.FieldRef(field)
	if opts.Aggregated {
		ref = "$_id." + field
	}
	if opts.Accumulator != "" {
		return bson.D{{Key: opts.Accumulator, Value: ref}}
	}
	return ref
}

// IdentityProjection reads one document of collection matching filter (nil
// matches any) and maps every top-level field it carries. No match is a
// NotFound error: the shape is unknown, not empty.
func IdentityProjection(ctx context.Context, finder docstore.Finder, collection string, filter bson.D, opts Options) (pipeline.FieldSpec, error) {
	doc, err := finder.FindOne(ctx, collection, filter)
	if errors.Is(err, docstore.ErrNoDocuments) {
		return pipeline.FieldSpec{}, fault.NotFound(collection, "no representative document for identity projection")
	}
	if err != nil {
		return pipeline.FieldSpec{}, fault.Operation("findOne", collection, err)
	}
	fields := make([]string, 0, len(doc))
	for _, e := range doc {
		fields = append(fields, e.Key)
	}
	return ExpressionMapping(fields, opts), nil
}
