package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/fault"
)

func TestFieldSpecOrderAndReplace(t *testing.T) {
	var fs FieldSpec
	fs.Set("b", 1)
	fs.Set("a", 2)
	fs.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, fs.Names())
	v, ok := fs.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, bson.D{{Key: "b", Value: 3}, {Key: "a", Value: 2}}, fs.BSON())
}

func TestFieldSpecCloneIndependent(t *testing.T) {
	orig := NewFieldSpec(Field{Name: "x", Value: "$x"})
	clone := orig.Clone()
	clone.Set("y", "$y")

	assert.Equal(t, 1, orig.Len())
	assert.False(t, orig.Has("y"))
	assert.Equal(t, 2, clone.Len())
}

func TestBuildersDeterministic(t *testing.T) {
	fs := NewFieldSpec(Field{Name: "_id", Value: 0}, Field{Name: "name", Value: "$name"})

	assert.Equal(t, ProjectStage(fs), ProjectStage(fs))
	assert.Equal(t, JoinStage("tmp", "custId", "k1", "j1"), JoinStage("tmp", "custId", "k1", "j1"))
	assert.Equal(t, FlattenStage("j1"), FlattenStage("j1"))
	assert.Equal(t, MaterializeStage("out"), MaterializeStage("out"))
}

func TestProjectStageClonesFields(t *testing.T) {
	fs := NewFieldSpec(Field{Name: "a", Value: "$a"})
	stage := ProjectStage(fs)
	fs.Set("b", "$b")
	assert.Equal(t, 1, stage.Fields.Len())
}

func TestRender(t *testing.T) {
	stages := []Stage{
		PassthroughStage(bson.D{{Key: "$match", Value: bson.D{{Key: "active", Value: true}}}}),
		JoinStage("AG_lookup", "custId", "k1", "j1"),
		FlattenStage("j1"),
		ProjectStage(NewFieldSpec(
			Field{Name: "_id", Value: "$_id"},
			Field{Name: "a1", Value: "$j1.name"},
		)),
		MaterializeStage("AG_source"),
	}

	docs, err := Render(stages)
	require.NoError(t, err)

	expected := []bson.D{
		{{Key: "$match", Value: bson.D{{Key: "active", Value: true}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: "AG_lookup"},
			{Key: "localField", Value: "custId"},
			{Key: "foreignField", Value: "k1"},
			{Key: "as", Value: "j1"},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "j1", Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$j1", 0}}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: "$_id"},
			{Key: "a1", Value: "$j1.name"},
		}}},
		{{Key: "$out", Value: "AG_source"}},
	}
	assert.Equal(t, expected, docs)
}

func TestRenderFlattenVariants(t *testing.T) {
	tests := []struct {
		name     string
		stage    Flatten
		expected []bson.D
	}{
		{
			name:  "unwind keep unmatched",
			stage: UnwindStage("$j", true),
			expected: []bson.D{{{Key: "$unwind", Value: bson.D{
				{Key: "path", Value: "$j"},
				{Key: "preserveNullAndEmptyArrays", Value: true},
			}}}},
		},
		{
			name:  "first only inner",
			stage: Flatten{Path: "j", FirstOnly: true},
			expected: []bson.D{
				{{Key: "$set", Value: bson.D{
					{Key: "j", Value: bson.D{{Key: "$arrayElemAt", Value: bson.A{"$j", 0}}}},
				}}},
				{{Key: "$match", Value: bson.D{
					{Key: "j", Value: bson.D{{Key: "$exists", Value: true}}},
				}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := Render([]Stage{tt.stage})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, docs)
		})
	}
}

func TestRenderPointerStages(t *testing.T) {
	docs, err := Render([]Stage{&MaterializeInto{Collection: "x"}})
	require.NoError(t, err)
	assert.Equal(t, []bson.D{{{Key: "$out", Value: "x"}}}, docs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		stages []Stage
		ok     bool
	}{
		{"empty", nil, true},
		{"valid", []Stage{JoinStage("a", "b", "c", "d"), FlattenStage("d"), MaterializeStage("out")}, true},
		{"out not last", []Stage{MaterializeStage("out"), FlattenStage("d")}, false},
		{"empty project", []Stage{Project{}}, false},
		{"join missing field", []Stage{JoinStage("a", "", "c", "d")}, false},
		{"flatten no path", []Stage{FlattenStage("$")}, false},
		{"passthrough two ops", []Stage{PassthroughStage(bson.D{{Key: "$match", Value: 1}, {Key: "$limit", Value: 1}})}, false},
		{"passthrough not operator", []Stage{PassthroughStage(bson.D{{Key: "match", Value: 1}})}, false},
		{"passthrough writes", []Stage{PassthroughStage(bson.D{{Key: "$merge", Value: "x"}})}, false},
		{"pointer valid", []Stage{&Flatten{Path: "x"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.stages)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, fault.IsValidation(err))
		})
	}
}
