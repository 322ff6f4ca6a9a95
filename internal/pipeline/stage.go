package pipeline

import "go.mongodb.org/mongo-driver/bson"

// Stage is one step of an aggregation pipeline.
// Sealed: only types in this package implement it.
type Stage interface {
	stageNode()
}

// Project reshapes each document to exactly Fields.
type Project struct {
	Fields FieldSpec
}

func (Project) stageNode() {}

// ComputedJoin attaches the documents of From whose ForeignField equals the
// input document's LocalField, as an array under As.
//
// ForeignField is typically a synthesized join-key field holding a computed
// expression materialized ahead of time, which is what makes joins on
// arbitrary expressions possible.
type ComputedJoin struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
}

func (ComputedJoin) stageNode() {}

// Flatten replaces the array at Path by its elements.
//
// KeepUnmatched retains documents whose array is missing or empty (left-outer
// semantics); the path is then absent from the output, never null.
//
// FirstOnly takes at most the first element instead of emitting one document
// per element, so a join never fans out.
type Flatten struct {
	Path          string
	KeepUnmatched bool
	FirstOnly     bool
}

func (Flatten) stageNode() {}

// MaterializeInto writes the pipeline result to Collection, replacing its
// contents. Must be the last stage.
type MaterializeInto struct {
	Collection string
}

func (MaterializeInto) stageNode() {}

// Passthrough is a caller-supplied stage the engine does not interpret.
type Passthrough struct {
	Raw bson.D
}

func (Passthrough) stageNode() {}

// ProjectStage builds a Project. The field map is cloned.
func ProjectStage(fields FieldSpec) Project {
	return Project{Fields: fields.Clone()}
}

// JoinStage builds a ComputedJoin.
func JoinStage(from, localField, foreignField, as string) ComputedJoin {
	return ComputedJoin{From: from, LocalField: localField, ForeignField: foreignField, As: as}
}

// FlattenStage builds a left-outer, first-match Flatten over path.
func FlattenStage(path string) Flatten {
	return Flatten{Path: path, KeepUnmatched: true, FirstOnly: true}
}

// UnwindStage builds a Flatten that emits one document per element.
func UnwindStage(path string, keepUnmatched bool) Flatten {
	return Flatten{Path: path, KeepUnmatched: keepUnmatched}
}

// MaterializeStage builds a MaterializeInto.
func MaterializeStage(collection string) MaterializeInto {
	return MaterializeInto{Collection: collection}
}

// PassthroughStage wraps a raw stage document.
func PassthroughStage(raw bson.D) Passthrough {
	return Passthrough{Raw: raw}
}
