// Package requestfile loads merge requests and seed data from YAML, CUE
// or extended JSON files.
//
// A file holds either one request or a list of them under "requests":
//
//	source: orders
//	lookup: customers
//	preStages:
//	  - $match: {active: true}
//	fields:
//	  name: {sourceKey: custId, lookupKey: code, renameTo: customerName, default: Unknown}
//
// Mapping order is preserved, so expression documents (lookup keys,
// pre-stages) reach the store exactly as written.
package requestfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/merge"
	"github.com/roach88/docmerge/internal/pipeline"
)

// LoadError locates a problem in a request file.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads every request in path. The format follows the extension:
// .yaml/.yml, .cue or .json (MongoDB extended JSON). YAML files may hold
// several documents.
func Load(path string) ([]merge.Request, error) {
	docs, err := readDocs(path)
	if err != nil {
		return nil, err
	}
	var out []merge.Request
	for _, d := range docs {
		reqs, err := decodeFile(d)
		if err != nil {
			return nil, &LoadError{Path: path, Message: "invalid request", Err: err}
		}
		out = append(out, reqs...)
	}
	if len(out) == 0 {
		return nil, &LoadError{Path: path, Message: "no requests found"}
	}
	return out, nil
}

// LoadSeed reads seed data: a document mapping collection names to lists
// of documents. Collections are returned in name order.
func LoadSeed(path string) ([]Collection, error) {
	docs, err := readDocs(path)
	if err != nil {
		return nil, err
	}
	byName := map[string][]bson.D{}
	for _, d := range docs {
		for _, e := range d {
			list, ok := e.Value.(bson.A)
			if !ok {
				return nil, &LoadError{Path: path, Message: fmt.Sprintf("collection %q must be a list of documents", e.Key)}
			}
			if _, seen := byName[e.Key]; !seen {
				// An empty list still names a collection to create.
				byName[e.Key] = nil
			}
			for i, v := range list {
				doc, ok := v.(bson.D)
				if !ok {
					return nil, &LoadError{Path: path, Message: fmt.Sprintf("collection %q entry %d is not a document", e.Key, i)}
				}
				byName[e.Key] = append(byName[e.Key], doc)
			}
		}
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Collection, len(names))
	for i, n := range names {
		out[i] = Collection{Name: n, Docs: byName[n]}
	}
	return out, nil
}

// Collection is one seeded collection.
type Collection struct {
	Name string
	Docs []bson.D
}

// Decode parses one YAML document holding a request.
func Decode(n *yaml.Node) (merge.Request, error) {
	v, err := fromYAML(n)
	if err != nil {
		return merge.Request{}, err
	}
	d, ok := v.(bson.D)
	if !ok {
		return merge.Request{}, errors.New("request must be a mapping")
	}
	return decodeRequest(d)
}

// DecodeYAMLValue converts a YAML node to bson values (bson.D, bson.A and
// scalars) in document order.
func DecodeYAMLValue(n *yaml.Node) (any, error) {
	return fromYAML(n)
}

func readDocs(path string) ([]bson.D, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "cannot read file", Err: err}
	}
	var docs []bson.D
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		docs, err = yamlDocs(b)
	case ".cue":
		docs, err = cueDocs(b, path)
	case ".json":
		var d bson.D
		err = bson.UnmarshalExtJSON(b, false, &d)
		docs = []bson.D{d}
	default:
		return nil, &LoadError{Path: path, Message: "unsupported extension (want .yaml, .yml, .cue or .json)"}
	}
	if err != nil {
		return nil, &LoadError{Path: path, Message: "cannot parse file", Err: err}
	}
	return docs, nil
}

func yamlDocs(b []byte) ([]bson.D, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var out []bson.D
	for {
		var n yaml.Node
		err := dec.Decode(&n)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		v, err := fromYAML(&n)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		d, ok := v.(bson.D)
		if !ok {
			return nil, errors.New("top level must be a mapping")
		}
		out = append(out, d)
	}
}

func cueDocs(b []byte, path string) ([]bson.D, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(b, cue.Filename(filepath.Base(path)))
	if err := v.Err(); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	out, err := fromCUE(v)
	if err != nil {
		return nil, err
	}
	d, ok := out.(bson.D)
	if !ok {
		return nil, errors.New("top level must be a struct")
	}
	return []bson.D{d}, nil
}

func decodeFile(d bson.D) ([]merge.Request, error) {
	list, ok := docstore.Lookup(d, "requests")
	if !ok {
		r, err := decodeRequest(d)
		if err != nil {
			return nil, err
		}
		return []merge.Request{r}, nil
	}
	if len(d) != 1 {
		return nil, errors.New(`"requests" may not be combined with other top-level keys`)
	}
	arr, ok := list.(bson.A)
	if !ok {
		return nil, errors.New(`"requests" must be a list`)
	}
	out := make([]merge.Request, 0, len(arr))
	for i, v := range arr {
		rd, ok := v.(bson.D)
		if !ok {
			return nil, fmt.Errorf("requests[%d] must be a mapping", i)
		}
		r, err := decodeRequest(rd)
		if err != nil {
			return nil, fmt.Errorf("requests[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeRequest(d bson.D) (merge.Request, error) {
	var r merge.Request
	for _, e := range d {
		switch e.Key {
		case "source":
			s, err := str(e)
			if err != nil {
				return r, err
			}
			r.Source = s
		case "lookup":
			s, err := str(e)
			if err != nil {
				return r, err
			}
			r.Lookup = s
		case "fields":
			fd, ok := e.Value.(bson.D)
			if !ok {
				return r, errors.New(`"fields" must be a mapping`)
			}
			r.Fields = make(map[string]merge.Spec, len(fd))
			for _, f := range fd {
				spec, err := decodeSpec(f)
				if err != nil {
					return r, fmt.Errorf("field %q: %w", f.Key, err)
				}
				r.Fields[f.Key] = spec
			}
		case "preStages":
			arr, ok := e.Value.(bson.A)
			if !ok {
				return r, errors.New(`"preStages" must be a list`)
			}
			for i, v := range arr {
				sd, ok := v.(bson.D)
				if !ok || len(sd) != 1 {
					return r, fmt.Errorf("preStages[%d] must be a single-operator stage document", i)
				}
				r.PreStages = append(r.PreStages, pipeline.PassthroughStage(sd))
			}
		default:
			return r, fmt.Errorf("unknown key %q", e.Key)
		}
	}
	return r, nil
}

func decodeSpec(f bson.E) (merge.Spec, error) {
	var s merge.Spec
	d, ok := f.Value.(bson.D)
	if !ok {
		return s, errors.New("spec must be a mapping")
	}
	for _, e := range d {
		switch e.Key {
		case "sourceKey":
			v, err := str(e)
			if err != nil {
				return s, err
			}
			s.SourceKey = v
		case "lookupKey":
			s.LookupKey = e.Value
		case "default":
			s.Default = e.Value
		case "renameTo":
			v, err := str(e)
			if err != nil {
				return s, err
			}
			s.RenameTo = v
		default:
			return s, fmt.Errorf("unknown key %q", e.Key)
		}
	}
	return s, nil
}

func str(e bson.E) (string, error) {
	s, ok := e.Value.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string", e.Key)
	}
	return s, nil
}
