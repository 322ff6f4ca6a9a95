package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/keytoken"
	"github.com/roach88/docmerge/internal/pipeline"
)

// Spec describes one logical output field.
type Spec struct {
	// SourceKey is the source-document field matched against the join key.
	SourceKey string `json:"sourceKey" yaml:"sourceKey"`

	// LookupKey is evaluated per lookup document: a field name, a "$path"
	// reference, or an aggregation expression document.
	LookupKey any `json:"lookupKey" yaml:"lookupKey"`

	// Default is written when no lookup value was found. Nil means none.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// RenameTo is the output field name; empty means the logical name.
	RenameTo string `json:"renameTo,omitempty" yaml:"renameTo,omitempty"`
}

// Target returns the output field name for logical field name.
func (s Spec) Target(name string) string {
	if s.RenameTo != "" {
		return s.RenameTo
	}
	return name
}

// Request is one lookup-merge invocation.
type Request struct {
	Source    string
	Lookup    string
	Fields    map[string]Spec
	PreStages []pipeline.Stage
}

// FieldNames returns the logical field names, sorted.
func (r Request) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for n := range r.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the request without touching the store.
func (r Request) Validate() error {
	if err := checkCollection("source", r.Source); err != nil {
		return err
	}
	if err := checkCollection("lookup", r.Lookup); err != nil {
		return err
	}

	targets := make(map[string]string, len(r.Fields))
	for _, name := range r.FieldNames() {
		spec := r.Fields[name]
		if err := checkFieldName("field", name); err != nil {
			return err
		}
		if spec.SourceKey == "" {
			return fault.Validation("field %q: sourceKey is required", name)
		}
		if strings.HasPrefix(spec.SourceKey, "$") || strings.Contains(spec.SourceKey, "\x00") {
			return fault.Validation("field %q: sourceKey %q must be a plain field path", name, spec.SourceKey)
		}
		if isBlankExpression(spec.LookupKey) {
			return fault.Validation("field %q: lookupKey is required", name)
		}
		if _, err := keytoken.ExpressionKey(spec.LookupKey); err != nil {
			return fault.Validation("field %q: lookupKey: %v", name, err)
		}

		target := spec.Target(name)
		if err := checkFieldName(fmt.Sprintf("field %q output", name), target); err != nil {
			return err
		}
		if target == "_id" {
			return fault.Validation("field %q: output name may not be _id", name)
		}
		if prev, dup := targets[target]; dup {
			return fault.Validation("fields %q and %q both write output %q", prev, name, target)
		}
		targets[target] = name
	}
	return nil
}

func isBlankExpression(expr any) bool {
	switch e := expr.(type) {
	case nil:
		return true
	case string:
		return strings.TrimPrefix(e, "$") == ""
	}
	return false
}

func checkCollection(role, name string) error {
	if name == "" {
		return fault.Validation("%s collection is required", role)
	}
	if strings.ContainsAny(name, "$\x00") {
		return fault.Validation("%s collection %q contains a reserved character", role, name)
	}
	return nil
}

func checkFieldName(role, name string) error {
	if name == "" {
		return fault.Validation("%s name is required", role)
	}
	if strings.ContainsAny(name, "$.\x00") {
		return fault.Validation("%s name %q may not contain '$', '.' or NUL", role, name)
	}
	return nil
}
