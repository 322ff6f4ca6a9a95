package staging

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/fault"
)

// IndexSpec is one of the accepted index description shapes.
//
// This is a sealed interface: only types in this package implement it.
type IndexSpec interface {
	indexSpec()

	// Defs resolves the spec to index definitions, identity index excluded.
	Defs() ([]docstore.IndexDef, error)
}

// IndexOptions are the options carried by a KeyOptions entry.
type IndexOptions struct {
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Unique bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
	Sparse bool   `json:"sparse,omitempty" yaml:"sparse,omitempty"`
}

// KeyOptions is one {keys, options} pair.
type KeyOptions struct {
	Keys    bson.D
	Options IndexOptions
}

// KeyOptionsList is an ordered list of {keys, options} pairs.
type KeyOptionsList []KeyOptions

// IndexInformation is the store-native shape returned by index
// introspection: index name -> [[field, direction], ...].
type IndexInformation map[string][][]any

// IndexList is the list-indexes shape; options are preserved.
type IndexList []docstore.IndexDef

func (KeyOptionsList) indexSpec()   {}
func (IndexInformation) indexSpec() {}
func (IndexList) indexSpec()        {}

func (l KeyOptionsList) Defs() ([]docstore.IndexDef, error) {
	out := make([]docstore.IndexDef, 0, len(l))
	for i, ko := range l {
		if len(ko.Keys) == 0 {
			return nil, fault.Validation("index %d has no keys", i)
		}
		out = append(out, docstore.IndexDef{
			Name:   ko.Options.Name,
			Keys:   ko.Keys,
			Unique: ko.Options.Unique,
			Sparse: ko.Options.Sparse,
		})
	}
	return out, nil
}

// Defs returns definitions ordered by index name.
func (info IndexInformation) Defs() ([]docstore.IndexDef, error) {
	names := make([]string, 0, len(info))
	for name := range info {
		if name != docstore.IDIndexName {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]docstore.IndexDef, 0, len(names))
	for _, name := range names {
		pairs := info[name]
		if len(pairs) == 0 {
			return nil, fault.Validation("index %q has no keys", name)
		}
		keys := make(bson.D, 0, len(pairs))
		for _, p := range pairs {
			if len(p) != 2 {
				return nil, fault.Validation("index %q: key entry must be [field, direction], got %d elements", name, len(p))
			}
			field, ok := p[0].(string)
			if !ok || field == "" {
				return nil, fault.Validation("index %q: field must be a non-empty string, got %v", name, p[0])
			}
			keys = append(keys, bson.E{Key: field, Value: p[1]})
		}
		out = append(out, docstore.IndexDef{Name: name, Keys: keys})
	}
	return out, nil
}

func (l IndexList) Defs() ([]docstore.IndexDef, error) {
	out := make([]docstore.IndexDef, 0, len(l))
	for _, ix := range l {
		if ix.Name == docstore.IDIndexName {
			continue
		}
		if len(ix.Keys) == 0 {
			return nil, fault.Validation("index %q has no keys", ix.Name)
		}
		out = append(out, ix)
	}
	return out, nil
}

// Information renders defs in the store-native introspection shape,
// identity index skipped.
func Information(defs []docstore.IndexDef) IndexInformation {
	info := make(IndexInformation, len(defs))
	for _, ix := range defs {
		if ix.Name == docstore.IDIndexName {
			continue
		}
		pairs := make([][]any, len(ix.Keys))
		for i, k := range ix.Keys {
			pairs[i] = []any{k.Key, k.Value}
		}
		info[ix.Name] = pairs
	}
	return info
}

// SingleField returns a KeyOptionsList with one ascending index per field.
func SingleField(fields ...string) KeyOptionsList {
	out := make(KeyOptionsList, len(fields))
	for i, f := range fields {
		out[i] = KeyOptions{Keys: bson.D{{Key: f, Value: 1}}}
	}
	return out
}

func describe(spec IndexSpec) string {
	switch spec.(type) {
	case KeyOptionsList:
		return "key-options list"
	case IndexInformation:
		return "index information"
	case IndexList:
		return "index list"
	default:
		return fmt.Sprintf("%T", spec)
	}
}
