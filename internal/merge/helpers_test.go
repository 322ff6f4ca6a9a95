package merge

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/pipeline"
)

func preStages(raw ...bson.D) []pipeline.Stage {
	out := make([]pipeline.Stage, len(raw))
	for i, r := range raw {
		out[i] = pipeline.PassthroughStage(r)
	}
	return out
}
