package memstore

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// runPipeline evaluates stages over input. A trailing $out replaces the
// target's documents and keeps its indexes. Callers hold s.mu.
func (s *Store) runPipeline(docs []bson.D, pipeline []bson.D) error {
	for i, raw := range pipeline {
		stage, err := normalizeDoc(raw)
		if err != nil {
			return err
		}
		if len(stage) != 1 {
			return fmt.Errorf("memstore: stage %d must have exactly one operator, got %d", i, len(stage))
		}
		op, arg := stage[0].Key, stage[0].Value
		if op == "$out" {
			if i != len(pipeline)-1 {
				return fmt.Errorf("memstore: $out must be the last stage")
			}
			return s.out(docs, arg)
		}
		if docs, err = s.apply(op, arg, docs); err != nil {
			return fmt.Errorf("stage %d (%s): %w", i, op, err)
		}
	}
	return nil
}

func (s *Store) apply(op string, arg any, docs []bson.D) ([]bson.D, error) {
	switch op {
	case "$match":
		filter, ok := arg.(bson.D)
		if !ok {
			return nil, fmt.Errorf("memstore: $match needs a document")
		}
		out := docs[:0:0]
		for _, d := range docs {
			hit, err := matches(d, filter)
			if err != nil {
				return nil, err
			}
			if hit {
				out = append(out, d)
			}
		}
		return out, nil

	case "$project":
		spec, ok := arg.(bson.D)
		if !ok {
			return nil, fmt.Errorf("memstore: $project needs a document")
		}
		out := make([]bson.D, 0, len(docs))
		for _, d := range docs {
			p, err := project(d, spec)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil

	case "$set", "$addFields":
		spec, ok := arg.(bson.D)
		if !ok {
			return nil, fmt.Errorf("memstore: %s needs a document", op)
		}
		for i, d := range docs {
			updated, err := addFields(d, spec)
			if err != nil {
				return nil, err
			}
			docs[i] = updated
		}
		return docs, nil

	case "$unset":
		fields := operands(arg)
		for i, d := range docs {
			for _, f := range fields {
				name, ok := f.(string)
				if !ok {
					return nil, fmt.Errorf("memstore: $unset takes field names")
				}
				d = unsetPath(d, name)
			}
			docs[i] = d
		}
		return docs, nil

	case "$lookup":
		return s.lookup(arg, docs)

	case "$unwind":
		return unwind(arg, docs)

	case "$limit", "$skip":
		n, ok := toInt(arg)
		if !ok || n < 0 {
			return nil, fmt.Errorf("memstore: %s needs a non-negative integer", op)
		}
		if n > len(docs) {
			n = len(docs)
		}
		if op == "$limit" {
			return docs[:n], nil
		}
		return docs[n:], nil

	case "$sort":
		keys, ok := arg.(bson.D)
		if !ok || len(keys) == 0 {
			return nil, fmt.Errorf("memstore: $sort needs a non-empty document")
		}
		sort.SliceStable(docs, func(i, j int) bool {
			for _, k := range keys {
				a, _ := getPath(docs[i], k.Key)
				b, _ := getPath(docs[j], k.Key)
				c := compare(a, b)
				if dir, _ := toInt(k.Value); dir < 0 {
					c = -c
				}
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
		return docs, nil
	}
	return nil, fmt.Errorf("memstore: unsupported stage %s", op)
}

func isFlag(v any) (include, ok bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	}
	if f, isNum := toFloat(v); isNum {
		return f != 0, true
	}
	return false, false
}

// project applies $project semantics: numeric or boolean values are
// inclusion/exclusion flags, everything else is an expression.
func project(doc bson.D, spec bson.D) (bson.D, error) {
	var inclusions, exclusions int
	idSpec, hasID := any(nil), false
	for _, e := range spec {
		if e.Key == "_id" {
			idSpec, hasID = e.Value, true
			continue
		}
		if include, ok := isFlag(e.Value); ok && !include {
			exclusions++
		} else {
			inclusions++
		}
	}
	if inclusions > 0 && exclusions > 0 {
		return nil, fmt.Errorf("memstore: $project cannot mix inclusion and exclusion")
	}
	excludeID := false
	if hasID {
		if include, ok := isFlag(idSpec); ok && !include {
			excludeID = true
		}
	}

	// {_id: 1} alone is an inclusion projection of just the identity.
	if exclusions > 0 || (inclusions == 0 && (!hasID || excludeID)) {
		out := cloneDoc(doc)
		for _, e := range spec {
			if e.Key == "_id" && !excludeID {
				continue
			}
			out = unsetPath(out, e.Key)
		}
		return out, nil
	}

	out := bson.D{}
	if !excludeID {
		if include, ok := isFlag(idSpec); !hasID || (ok && include) {
			if v, present := getField(doc, "_id"); present {
				out = append(out, bson.E{Key: "_id", Value: cloneValue(v)})
			}
		} else {
			v, present, err := eval(idSpec, doc)
			if err != nil {
				return nil, err
			}
			if present {
				out = append(out, bson.E{Key: "_id", Value: cloneValue(v)})
			}
		}
	}
	for _, e := range spec {
		if e.Key == "_id" {
			continue
		}
		var (
			v       any
			present bool
		)
		if _, ok := isFlag(e.Value); ok {
			v, present = getPath(doc, e.Key)
		} else {
			var err error
			if v, present, err = eval(e.Value, doc); err != nil {
				return nil, err
			}
		}
		if present {
			out = setPath(out, e.Key, cloneValue(v))
		}
	}
	return out, nil
}

// addFields evaluates every expression against the input document first; a
// missing result removes the field.
func addFields(doc bson.D, spec bson.D) (bson.D, error) {
	type result struct {
		path    string
		v       any
		present bool
	}
	results := make([]result, 0, len(spec))
	for _, e := range spec {
		v, present, err := eval(e.Value, doc)
		if err != nil {
			return nil, err
		}
		results = append(results, result{e.Key, cloneValue(v), present})
	}
	for _, r := range results {
		if r.present {
			doc = setPath(doc, r.path, r.v)
		} else {
			doc = unsetPath(doc, r.path)
		}
	}
	return doc, nil
}

func (s *Store) lookup(arg any, docs []bson.D) ([]bson.D, error) {
	spec, ok := arg.(bson.D)
	if !ok {
		return nil, fmt.Errorf("memstore: $lookup needs a document")
	}
	var from, local, foreign, as string
	for _, e := range spec {
		str, ok := e.Value.(string)
		if !ok {
			return nil, fmt.Errorf("memstore: $lookup %s must be a string", e.Key)
		}
		switch e.Key {
		case "from":
			from = str
		case "localField":
			local = str
		case "foreignField":
			foreign = str
		case "as":
			as = str
		default:
			return nil, fmt.Errorf("memstore: unsupported $lookup option %s", e.Key)
		}
	}
	if from == "" || local == "" || foreign == "" || as == "" {
		return nil, fmt.Errorf("memstore: $lookup needs from, localField, foreignField and as")
	}
	var foreignDocs []bson.D
	if c, ok := s.colls[from]; ok {
		foreignDocs = c.docs
	}
	for i, d := range docs {
		lv, lok := getPath(d, local)
		joined := bson.A{}
		for _, fd := range foreignDocs {
			fv, fok := getPath(fd, foreign)
			if lookupMatch(lv, lok, fv, fok) {
				joined = append(joined, cloneDoc(fd))
			}
		}
		docs[i] = setPath(d, as, joined)
	}
	return docs, nil
}

// lookupMatch follows $lookup equality: a missing or null local value
// matches foreign documents whose key is missing or null, and arrays on
// either side match element-wise.
func lookupMatch(local any, lok bool, foreign any, fok bool) bool {
	lnull := !lok || local == nil
	fnull := !fok || foreign == nil
	if lnull || fnull {
		return lnull && fnull
	}
	if arr, ok := local.(bson.A); ok {
		for _, e := range arr {
			if lookupMatch(e, true, foreign, true) {
				return true
			}
		}
		return false
	}
	if arr, ok := foreign.(bson.A); ok {
		for _, e := range arr {
			if equal(local, e) {
				return true
			}
		}
		return false
	}
	return equal(local, foreign)
}

func unwind(arg any, docs []bson.D) ([]bson.D, error) {
	var path string
	preserve := false
	switch x := arg.(type) {
	case string:
		path = x
	case bson.D:
		for _, e := range x {
			switch e.Key {
			case "path":
				path, _ = e.Value.(string)
			case "preserveNullAndEmptyArrays":
				preserve, _ = e.Value.(bool)
			default:
				return nil, fmt.Errorf("memstore: unsupported $unwind option %s", e.Key)
			}
		}
	}
	if !strings.HasPrefix(path, "$") {
		return nil, fmt.Errorf("memstore: $unwind path must start with $")
	}
	path = path[1:]
	out := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		v, ok := getPath(d, path)
		arr, isArr := v.(bson.A)
		switch {
		case !ok || v == nil || (isArr && len(arr) == 0):
			if preserve {
				if ok && isArr {
					d = unsetPath(d, path)
				}
				out = append(out, d)
			}
		case isArr:
			for _, e := range arr {
				out = append(out, setPath(cloneDoc(d), path, cloneValue(e)))
			}
		default:
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) out(docs []bson.D, arg any) error {
	var target string
	switch x := arg.(type) {
	case string:
		target = x
	case bson.D:
		if v, ok := getField(x, "coll"); ok {
			target, _ = v.(string)
		}
	}
	if err := checkName(target); err != nil {
		return err
	}
	c, ok := s.colls[target]
	if !ok {
		c = newCollection()
	}
	results := make([]bson.D, len(docs))
	for i, d := range docs {
		results[i] = withID(d)
	}
	if err := checkUnique(results, c.indexes); err != nil {
		return err
	}
	c.docs = results
	s.colls[target] = c
	return nil
}
