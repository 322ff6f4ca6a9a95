package requestfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docmerge/internal/merge"
	"github.com/roach88/docmerge/internal/pipeline"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func wantAcme() merge.Request {
	return merge.Request{
		Source: "orders",
		Lookup: "customers",
		Fields: map[string]merge.Spec{
			"name": {SourceKey: "custId", LookupKey: "code", RenameTo: "customerName", Default: "Unknown"},
			"label": {
				SourceKey: "custId",
				LookupKey: "code",
				Default:   nil,
			},
		},
		PreStages: []pipeline.Stage{
			pipeline.PassthroughStage(bson.D{{Key: "$match", Value: bson.D{{Key: "active", Value: true}}}}),
		},
	}
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "acme.yaml", `
source: orders
lookup: customers
preStages:
  - $match: {active: true}
fields:
  name: {sourceKey: custId, lookupKey: code, renameTo: customerName, default: Unknown}
  label: {sourceKey: custId, lookupKey: code}
`)
	reqs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, wantAcme(), reqs[0])
}

func TestLoadCUE(t *testing.T) {
	path := write(t, "acme.cue", `
source: "orders"
lookup: "customers"
preStages: [{"$match": {active: true}}]
fields: {
	name: {sourceKey: "custId", lookupKey: "code", renameTo: "customerName", default: "Unknown"}
	label: {sourceKey: "custId", lookupKey: "code"}
}
`)
	reqs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, wantAcme(), reqs[0])
}

func TestLoadExtendedJSON(t *testing.T) {
	path := write(t, "acme.json", `{
  "source": "orders", "lookup": "customers",
  "preStages": [{"$match": {"active": true}}],
  "fields": {
    "name": {"sourceKey": "custId", "lookupKey": "code", "renameTo": "customerName", "default": "Unknown"},
    "label": {"sourceKey": "custId", "lookupKey": "code"}
  }
}`)
	reqs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, wantAcme(), reqs[0])
}

func TestExpressionOrderPreserved(t *testing.T) {
	path := write(t, "expr.yaml", `
source: people
lookup: directory
fields:
  full:
    sourceKey: ref
    lookupKey: {$concat: ["$last", ", ", "$first"]}
    default: {z: 1, a: 2}
`)
	reqs, err := Load(path)
	require.NoError(t, err)
	spec := reqs[0].Fields["full"]
	assert.Equal(t, bson.D{{Key: "$concat", Value: bson.A{"$last", ", ", "$first"}}}, spec.LookupKey)
	assert.Equal(t, bson.D{{Key: "z", Value: int32(1)}, {Key: "a", Value: int32(2)}}, spec.Default)
}

func TestLoadRequestsListAndMultiDocument(t *testing.T) {
	path := write(t, "many.yaml", `
requests:
  - {source: a, lookup: b, fields: {x: {sourceKey: k, lookupKey: k}}}
  - {source: c, lookup: d, fields: {}}
---
source: e
lookup: f
`)
	reqs, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, []string{"a", "c", "e"}, []string{reqs[0].Source, reqs[1].Source, reqs[2].Source})
	assert.Empty(t, reqs[1].Fields)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, file, content, want string
	}{
		{"unknown key", "a.yaml", "source: a\nlookup: b\nextra: 1\n", `unknown key "extra"`},
		{"unknown spec key", "a.yaml", "source: a\nfields: {x: {sourceKey: k, bogus: 1}}\n", `field "x": unknown key "bogus"`},
		{"non-string source", "a.yaml", "source: 3\n", `"source" must be a string`},
		{"multi-operator stage", "a.yaml", "source: a\npreStages: [{$match: {}, $limit: 1}]\n", "single-operator"},
		{"requests mixed", "a.yaml", "requests: []\nsource: a\n", "may not be combined"},
		{"empty", "a.yaml", "", "no requests found"},
		{"bad extension", "a.toml", "x = 1", "unsupported extension"},
		{"bad cue", "a.cue", "source: ", "cannot parse file"},
		{"incomplete cue", "a.cue", "source: string\n", "cannot parse file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(write(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			var le *LoadError
			assert.ErrorAs(t, err, &le)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "cannot read file")
}

func TestLoadSeed(t *testing.T) {
	path := write(t, "seed.yaml", `
orders:
  - {id: 1, custId: A}
customers:
  - {code: A, name: Acme, big: 5000000000}
`)
	colls, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, colls, 2)
	assert.Equal(t, "customers", colls[0].Name)
	assert.Equal(t, []bson.D{{{Key: "code", Value: "A"}, {Key: "name", Value: "Acme"}, {Key: "big", Value: int64(5000000000)}}}, colls[0].Docs)
	assert.Equal(t, "orders", colls[1].Name)

	colls, err = LoadSeed(write(t, "empty.yaml", "orders: []\n"))
	require.NoError(t, err)
	require.Len(t, colls, 1)
	assert.Equal(t, "orders", colls[0].Name)
	assert.Empty(t, colls[0].Docs)

	_, err = LoadSeed(write(t, "bad.yaml", "orders: {id: 1}\n"))
	assert.ErrorContains(t, err, "must be a list")
}

func TestDecodeNode(t *testing.T) {
	var n yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("source: a\nlookup: b\nfields: {x: {sourceKey: k, lookupKey: '$k', default: null}}\n"), &n))
	r, err := Decode(&n)
	require.NoError(t, err)
	assert.Equal(t, merge.Spec{SourceKey: "k", LookupKey: "$k"}, r.Fields["x"])

	v, err := DecodeYAMLValue(&n)
	require.NoError(t, err)
	assert.IsType(t, bson.D{}, v)
}
