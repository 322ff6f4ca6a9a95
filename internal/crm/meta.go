package crm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Entity is entity metadata as the server lists it.
type Entity struct {
	Name   string `json:"Name"`
	Groups struct {
		Group []string `json:"Group"`
	} `json:"Groups"`
	Fields struct {
		Field []string `json:"Field"`
	} `json:"Fields"`
}

// Meta is the flattened group and field lists of one entity.
type Meta struct {
	Name   string
	Groups []string
	Fields []string
}

// GroupsAndFields returns the metadata of the last entity named name.
func GroupsAndFields(name string, entities []Entity) (Meta, bool) {
	var found *Entity
	for i := range entities {
		if entities[i].Name == name {
			found = &entities[i]
		}
	}
	if found == nil {
		return Meta{}, false
	}
	return Meta{
		Name:   found.Name,
		Groups: append([]string(nil), found.Groups.Group...),
		Fields: append([]string(nil), found.Fields.Field...),
	}, true
}

// QueryParam is one group or field reference in a query request.
type QueryParam struct {
	Attrs struct {
		Name string `json:"name"`
	} `json:"_attrs"`
	Text string `json:"_text"`
}

// QueryParamFields wraps each string in values as a query parameter.
// Non-string values are skipped.
func QueryParamFields(values []any) []QueryParam {
	out := make([]QueryParam, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p QueryParam
		p.Attrs.Name = "Res1"
		p.Text = s
		out = append(out, p)
	}
	return out
}

var patternWord = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Pattern matches names of relationship groups and fields: the entity
// name, an underscore, the relationship name, then at least one more
// character, case-insensitively. Only identifier characters are accepted
// in either part, so patterns from requests cannot inject expressions.
type Pattern struct {
	re *regexp.Regexp
}

// CompilePattern builds the relationship pattern for entity and rel.
func CompilePattern(entity, rel string) (*Pattern, error) {
	if !patternWord.MatchString(entity) {
		return nil, fmt.Errorf("invalid entity name %q", entity)
	}
	if !patternWord.MatchString(rel) {
		return nil, fmt.Errorf("invalid relationship pattern %q", rel)
	}
	return &Pattern{re: regexp.MustCompile(`(?i)` + entity + "_" + rel + `.+`)}, nil
}

// MatchString reports whether name belongs to the relationship.
func (p *Pattern) MatchString(name string) bool { return p.re.MatchString(name) }

// FilterRelationships removes, per pattern in order, the groups and fields
// of meta matching it. With keep set it retains only the matching ones.
func FilterRelationships(meta *Meta, entity string, patterns []string, keep bool) error {
	for _, rel := range patterns {
		p, err := CompilePattern(entity, rel)
		if err != nil {
			return err
		}
		meta.Groups = filter(meta.Groups, p, keep)
		meta.Fields = filter(meta.Fields, p, keep)
	}
	return nil
}

func filter(names []string, p *Pattern, keep bool) []string {
	out := names[:0:0]
	for _, n := range names {
		if p.MatchString(n) == keep {
			out = append(out, n)
		}
	}
	return out
}

// oneOrMany decodes a JSON value that is either a single T or an array.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = []byte(strings.TrimSpace(string(b)))
	if len(b) > 0 && b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	if string(b) == "null" {
		*o = nil
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*o = oneOrMany[T]{one}
	return nil
}

// QueryParams is the search criteria part of a query request.
type QueryParams struct {
	SearchCriteria struct {
		AndFilter struct {
			OrFilter oneOrMany[OrFilter] `json:"OrFilter"`
		} `json:"AndFilter"`
	} `json:"SearchCriteria"`
}

// OrFilter is one category's filter terms.
type OrFilter struct {
	Attrs struct {
		Category string `json:"category"`
	} `json:"_attrs"`
	AndFilter struct {
		Filter oneOrMany[string] `json:"Filter"`
	} `json:"AndFilter"`
}

var filterTerm = regexp.MustCompile(`(?i)^([^=]+)='([^']+)'$`)

// GroupValue returns the value filtered for group in the terms of
// objectName's category. Terms of uncategorized filters always count, as
// do all terms when objectName is empty. The last matching term wins.
func GroupValue(params QueryParams, objectName, group string) (string, bool) {
	var value string
	var found bool
	for _, or := range params.SearchCriteria.AndFilter.OrFilter {
		category := or.Attrs.Category
		if objectName != "" && category != "" && category != objectName {
			continue
		}
		for _, term := range or.AndFilter.Filter {
			m := filterTerm.FindStringSubmatch(term)
			if m != nil && m[1] == group {
				value, found = m[2], true
			}
		}
	}
	return value, found
}

// IsEmptyValue reports nil, blank strings and the server's not-available
// markers.
func IsEmptyValue(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == "-N/A-" || v == "- N/A -" || strings.TrimSpace(v) == ""
	case *string:
		return v == nil || IsEmptyValue(*v)
	}
	return false
}
