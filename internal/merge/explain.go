package merge

import (
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/projection"
)

// Explanation is a printable view of a plan.
type Explanation struct {
	// Seed is the raw salt source value, when the caller knows it; Salt is
	// the run salt derived from it.
	Seed           string            `json:"seed,omitempty"`
	Salt           string            `json:"salt"`
	Swap           SwapMode          `json:"swap"`
	Source         string            `json:"source"`
	Lookup         string            `json:"lookup"`
	LookupTemp     string            `json:"lookupTemp"`
	SourceTemp     string            `json:"sourceTemp"`
	JoinKeys       []JoinKey         `json:"joinKeys"`
	Joins          []Join            `json:"joins"`
	Outputs        []Output          `json:"outputs"`
	LookupPipeline []json.RawMessage `json:"lookupPipeline"`
	MergePipeline  []json.RawMessage `json:"mergePipeline"`
	Finalize       []string          `json:"finalize"`
}

// Explain renders the plan. The source shape is unknown without the store,
// so the merge pipeline is built over sourceFields (plus _id).
func (p *Plan) Explain(sourceFields []string) (*Explanation, error) {
	identity := projection.ExpressionMapping(append([]string{"_id"}, sourceFields...), projection.Options{IncludeID: true})
	merge, err := p.MergePipeline(identity)
	if err != nil {
		return nil, err
	}
	lookupJSON, err := extJSON(p.LookupPipeline)
	if err != nil {
		return nil, err
	}
	mergeJSON, err := extJSON(merge)
	if err != nil {
		return nil, err
	}

	steps := []string{fmt.Sprintf("drop %s", p.LookupTemp.Name)}
	if p.Swap != SwapOverwriteRename {
		steps = append(steps, fmt.Sprintf("drop %s", p.Source))
	}
	for _, o := range p.Outputs {
		if o.HasDefault() {
			steps = append(steps, fmt.Sprintf("set %s to default where %s is absent", o.Target, o.Alias))
		}
	}
	for _, o := range p.Outputs {
		steps = append(steps, fmt.Sprintf("rename field %s to %s", o.Alias, o.Target))
	}
	if p.Swap == SwapOverwriteRename {
		steps = append(steps, fmt.Sprintf("rename %s to %s (dropTarget)", p.SourceTemp.Name, p.Source))
	} else {
		steps = append(steps, fmt.Sprintf("rename %s to %s", p.SourceTemp.Name, p.Source))
	}

	return &Explanation{
		Salt:           p.Run.Salt,
		Swap:           p.Swap,
		Source:         p.Source,
		Lookup:         p.Lookup,
		LookupTemp:     p.LookupTemp.Name,
		SourceTemp:     p.SourceTemp.Name,
		JoinKeys:       p.JoinKeys,
		Joins:          p.Joins,
		Outputs:        p.Outputs,
		LookupPipeline: lookupJSON,
		MergePipeline:  mergeJSON,
		Finalize:       steps,
	}, nil
}

func extJSON(stages []bson.D) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(stages))
	for i, s := range stages {
		b, err := bson.MarshalExtJSON(s, false, false)
		if err != nil {
			return nil, fmt.Errorf("render stage %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
