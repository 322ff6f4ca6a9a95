package pipeline

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Render converts stages to MongoDB aggregation stage documents.
// A Flatten with FirstOnly may render to more than one document.
func Render(stages []Stage) ([]bson.D, error) {
	out := make([]bson.D, 0, len(stages))
	for i, s := range stages {
		docs, err := renderStage(s)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		out = append(out, docs...)
	}
	return out, nil
}

func renderStage(s Stage) ([]bson.D, error) {
	switch stage := s.(type) {
	case Project:
		return []bson.D{{{Key: "$project", Value: stage.Fields.BSON()}}}, nil
	case *Project:
		return renderStage(*stage)
	case ComputedJoin:
		return []bson.D{{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: stage.From},
			{Key: "localField", Value: stage.LocalField},
			{Key: "foreignField", Value: stage.ForeignField},
			{Key: "as", Value: stage.As},
		}}}}, nil
	case *ComputedJoin:
		return renderStage(*stage)
	case Flatten:
		return renderFlatten(stage), nil
	case *Flatten:
		return renderStage(*stage)
	case MaterializeInto:
		return []bson.D{{{Key: "$out", Value: stage.Collection}}}, nil
	case *MaterializeInto:
		return renderStage(*stage)
	case Passthrough:
		return []bson.D{stage.Raw}, nil
	case *Passthrough:
		return renderStage(*stage)
	default:
		return nil, fmt.Errorf("unsupported stage type: %T", s)
	}
}

func renderFlatten(f Flatten) []bson.D {
	path := strings.TrimPrefix(f.Path, "$")
	if !f.FirstOnly {
		return []bson.D{{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$" + path},
			{Key: "preserveNullAndEmptyArrays", Value: f.KeepUnmatched},
		}}}}
	}

	// $arrayElemAt on an empty array yields a missing value, and $set drops
	// fields whose value is missing, so unmatched documents lose the path.
	docs := []bson.D{{{Key: "$set", Value: bson.D{
		{Key: path, Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$" + path, 0}}}},
	}}}}
	if !f.KeepUnmatched {
		docs = append(docs, bson.D{{Key: "$match", Value: bson.D{
			{Key: path, Value: bson.D{{Key: "$exists", Value: true}}},
		}}})
	}
	return docs
}
