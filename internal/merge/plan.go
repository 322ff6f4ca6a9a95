package merge

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/keytoken"
	"github.com/roach88/docmerge/internal/pipeline"
	"github.com/roach88/docmerge/internal/staging"
)

// JoinKey is one distinct lookup-key expression and the lookup-temp field
// that carries its value.
type JoinKey struct {
	Token      string `json:"token"`
	Key        string `json:"key"`
	Expression any    `json:"-"`
}

// Join is one distinct (sourceKey, expression) pair: a $lookup against
// lookup-temp whose single match lands in Field.
type Join struct {
	Field     string `json:"field"`
	SourceKey string `json:"sourceKey"`
	JoinKey   string `json:"joinKey"`
}

// Output is one logical field: its alias in source-temp and its final name.
type Output struct {
	Field   string `json:"field"`
	Alias   string `json:"alias"`
	Target  string `json:"target"`
	Join    string `json:"join"`
	Default any    `json:"default,omitempty"`
}

// HasDefault reports whether unmatched documents receive a default.
func (o Output) HasDefault() bool { return o.Default != nil }

// Plan is the store-independent part of a run: every name, token and
// pipeline that does not depend on the source's document shape.
type Plan struct {
	Run        keytoken.RunContext
	Source     string
	Lookup     string
	LookupTemp staging.Handle
	SourceTemp staging.Handle
	Swap       SwapMode

	JoinKeys []JoinKey
	Joins    []Join
	Outputs  []Output

	// LookupProjection keeps each logical field and adds one field per
	// JoinKey.
	LookupProjection pipeline.FieldSpec

	// JoinKeyIndexes holds one single-field index per JoinKey.
	JoinKeyIndexes staging.KeyOptionsList

	// LookupStages is pre-stages, LookupProjection, $out lookup-temp.
	LookupStages   []pipeline.Stage
	LookupPipeline []bson.D
}

// Plan validates req and derives its plan under rc.
func (e *Engine) Plan(req Request, rc keytoken.RunContext) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p := &Plan{
		Run:        rc,
		Source:     req.Source,
		Lookup:     req.Lookup,
		LookupTemp: e.staging.Handle(staging.PurposeLookupTemp, req.Lookup, rc),
		SourceTemp: e.staging.Handle(staging.PurposeSourceTemp, req.Source, rc),
		Swap:       e.swap,
	}

	joinKeys := make(map[string]string)
	joins := make(map[string]string)
	for _, name := range req.FieldNames() {
		spec := req.Fields[name]
		exprKey, _ := keytoken.ExpressionKey(spec.LookupKey)

		keyToken, seen := joinKeys[exprKey]
		if !seen {
			keyToken = rc.LookupKeyToken(exprKey)
			joinKeys[exprKey] = keyToken
			p.JoinKeys = append(p.JoinKeys, JoinKey{
				Token:      keyToken,
				Key:        exprKey,
				Expression: joinKeyExpression(spec.LookupKey, rc),
			})
		}

		pairKey := spec.SourceKey + "\x00" + exprKey
		joinField, seen := joins[pairKey]
		if !seen {
			joinField = rc.SourceKeyToken(spec.SourceKey, exprKey)
			joins[pairKey] = joinField
			p.Joins = append(p.Joins, Join{Field: joinField, SourceKey: spec.SourceKey, JoinKey: keyToken})
		}

		p.Outputs = append(p.Outputs, Output{
			Field:   name,
			Alias:   rc.FieldAliasToken(name),
			Target:  spec.Target(name),
			Join:    joinField,
			Default: spec.Default,
		})
	}

	for _, o := range p.Outputs {
		p.LookupProjection.Set(o.Field, keytoken.FieldRef(o.Field))
	}
	for _, jk := range p.JoinKeys {
		p.LookupProjection.Set(jk.Token, jk.Expression)
		p.JoinKeyIndexes = append(p.JoinKeyIndexes, staging.KeyOptions{Keys: bson.D{{Key: jk.Token, Value: 1}}})
	}
	if p.LookupProjection.Len() == 0 {
		// The store rejects an empty $project.
		p.LookupProjection.Set("_id", 1)
	}

	p.LookupStages = append(append([]pipeline.Stage(nil), req.PreStages...),
		pipeline.ProjectStage(p.LookupProjection),
		pipeline.MaterializeStage(p.LookupTemp.Name),
	)
	if err := pipeline.Validate(p.LookupStages); err != nil {
		return nil, err
	}
	rendered, err := pipeline.Render(p.LookupStages)
	if err != nil {
		return nil, err
	}
	p.LookupPipeline = rendered
	return p, nil
}

// lookupExpression turns a bare field name into a field reference and wraps
// scalar literals in $literal, since $project reads a bare number or bool as
// an inclusion flag. Documents and arrays pass through unchanged.
func lookupExpression(expr any) any {
	switch v := expr.(type) {
	case string:
		return keytoken.FieldRef(v)
	case bson.D, bson.M, map[string]any, bson.A, []any:
		return v
	default:
		return bson.D{{Key: "$literal", Value: v}}
	}
}

// joinKeyExpression computes the join key of a lookup document. $lookup
// treats a missing local field as equal to a null or missing foreign field,
// so null keys are replaced by the run's missing-key token.
func joinKeyExpression(expr any, rc keytoken.RunContext) any {
	return bson.D{{Key: "$ifNull", Value: bson.A{lookupExpression(expr), rc.MissingKeyToken()}}}
}

// MergeStages builds the MERGE-STAGE pipeline over the source identity
// projection.
func (p *Plan) MergeStages(identity pipeline.FieldSpec) []pipeline.Stage {
	stages := make([]pipeline.Stage, 0, 2*len(p.Joins)+2)
	for _, j := range p.Joins {
		stages = append(stages,
			pipeline.JoinStage(p.LookupTemp.Name, j.SourceKey, j.JoinKey, j.Field),
			pipeline.FlattenStage(j.Field),
		)
	}
	fields := identity.Clone()
	for _, o := range p.Outputs {
		fields.Set(o.Alias, "$"+o.Join+"."+o.Field)
	}
	return append(stages,
		pipeline.ProjectStage(fields),
		pipeline.MaterializeStage(p.SourceTemp.Name),
	)
}

// MergePipeline renders MergeStages.
func (p *Plan) MergePipeline(identity pipeline.FieldSpec) ([]bson.D, error) {
	stages := p.MergeStages(identity)
	if err := pipeline.Validate(stages); err != nil {
		return nil, err
	}
	return pipeline.Render(stages)
}
