package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestEval(t *testing.T) {
	doc := bson.D{
		{Key: "first", Value: "Ada"},
		{Key: "last", Value: "Lovelace"},
		{Key: "n", Value: 2},
		{Key: "xs", Value: bson.A{"p", "q"}},
		{Key: "sub", Value: bson.D{{Key: "code", Value: "c1"}}},
		{Key: "nil", Value: nil},
	}

	tests := []struct {
		name    string
		expr    any
		want    any
		present bool
	}{
		{"field ref", "$first", "Ada", true},
		{"nested ref", "$sub.code", "c1", true},
		{"missing ref", "$nope", nil, false},
		{"literal string", "plain", "plain", true},
		{"concat", bson.D{{Key: "$concat", Value: bson.A{"$first", " ", "$last"}}}, "Ada Lovelace", true},
		{"concat null", bson.D{{Key: "$concat", Value: bson.A{"$first", "$nope"}}}, nil, true},
		{"upper", bson.D{{Key: "$toUpper", Value: "$first"}}, "ADA", true},
		{"lower missing", bson.D{{Key: "$toLower", Value: "$nope"}}, "", true},
		{"toString int", bson.D{{Key: "$toString", Value: "$n"}}, "2", true},
		{"elemAt", bson.D{{Key: "$arrayElemAt", Value: bson.A{"$xs", -1}}}, "q", true},
		{"elemAt out of range", bson.D{{Key: "$arrayElemAt", Value: bson.A{"$xs", 5}}}, nil, false},
		{"ifNull", bson.D{{Key: "$ifNull", Value: bson.A{"$nil", "$nope", "dflt"}}}, "dflt", true},
		{"add", bson.D{{Key: "$add", Value: bson.A{"$n", 3}}}, int64(5), true},
		{"eq", bson.D{{Key: "$eq", Value: bson.A{"$n", 2.0}}}, true, true},
		{"literal op", bson.D{{Key: "$literal", Value: "$first"}}, "$first", true},
		{"subdocument", bson.D{{Key: "a", Value: "$first"}, {Key: "b", Value: "$nope"}}, bson.D{{Key: "a", Value: "Ada"}}, true},
		{"remove", "$$REMOVE", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, present, err := eval(tt.expr, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.present, present)
			assert.Equal(t, tt.want, got)
		})
	}

	_, _, err := eval(bson.D{{Key: "$regexFind", Value: "x"}}, doc)
	assert.ErrorContains(t, err, "unsupported expression operator")
}

func TestProject(t *testing.T) {
	doc := bson.D{{Key: "_id", Value: 1}, {Key: "a", Value: "x"}, {Key: "b", Value: "y"}}

	got, err := project(doc, bson.D{{Key: "a", Value: 1}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "a", Value: "x"}}, got)

	got, err = project(doc, bson.D{{Key: "_id", Value: 0}, {Key: "c", Value: "$b"}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "c", Value: "y"}}, got)

	got, err = project(doc, bson.D{{Key: "b", Value: 0}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}, {Key: "a", Value: "x"}}, got)

	got, err = project(doc, bson.D{{Key: "_id", Value: 1}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, got)

	_, err = project(doc, bson.D{{Key: "a", Value: 1}, {Key: "b", Value: 0}})
	assert.Error(t, err)
}

func TestLookupMatch(t *testing.T) {
	assert.True(t, lookupMatch(nil, false, nil, false), "missing matches missing")
	assert.True(t, lookupMatch(nil, true, nil, false), "null matches missing")
	assert.False(t, lookupMatch("a", true, nil, false))
	assert.True(t, lookupMatch(1, true, 1.0, true))
	assert.True(t, lookupMatch(bson.A{"x", "y"}, true, "y", true))
	assert.True(t, lookupMatch("y", true, bson.A{"x", "y"}, true))
}
