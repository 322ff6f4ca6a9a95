package memstore

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// matches reports whether doc satisfies a query filter. Supported: field
// equality, $eq $ne $exists $in $nin $gt $gte $lt $lte, $and, $or.
func matches(doc bson.D, filter bson.D) (bool, error) {
	for _, e := range filter {
		var (
			ok  bool
			err error
		)
		switch e.Key {
		case "$and", "$or":
			ok, err = matchLogical(doc, e.Key, e.Value)
		default:
			if strings.HasPrefix(e.Key, "$") {
				return false, fmt.Errorf("memstore: unsupported query operator %s", e.Key)
			}
			ok, err = matchField(doc, e.Key, e.Value)
		}
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc bson.D, op string, arg any) (bool, error) {
	clauses, ok := arg.(bson.A)
	if !ok || len(clauses) == 0 {
		return false, fmt.Errorf("memstore: %s needs a non-empty array", op)
	}
	for _, c := range clauses {
		sub, ok := c.(bson.D)
		if !ok {
			return false, fmt.Errorf("memstore: %s clause must be a document", op)
		}
		hit, err := matches(doc, sub)
		if err != nil {
			return false, err
		}
		if op == "$or" && hit {
			return true, nil
		}
		if op == "$and" && !hit {
			return false, nil
		}
	}
	return op == "$and", nil
}

func isOperatorDoc(v any) (bson.D, bool) {
	d, ok := v.(bson.D)
	if !ok || len(d) == 0 || !strings.HasPrefix(d[0].Key, "$") {
		return nil, false
	}
	return d, true
}

func matchField(doc bson.D, path string, cond any) (bool, error) {
	v, present := getPath(doc, path)
	ops, ok := isOperatorDoc(cond)
	if !ok {
		return matchEq(v, present, cond), nil
	}
	for _, op := range ops {
		var hit bool
		switch op.Key {
		case "$eq":
			hit = matchEq(v, present, op.Value)
		case "$ne":
			hit = !matchEq(v, present, op.Value)
		case "$exists":
			want, ok := op.Value.(bool)
			if !ok {
				n, isNum := toFloat(op.Value)
				if !isNum {
					return false, fmt.Errorf("memstore: $exists needs a boolean")
				}
				want = n != 0
			}
			hit = present == want
		case "$in", "$nin":
			list, ok := op.Value.(bson.A)
			if !ok {
				return false, fmt.Errorf("memstore: %s needs an array", op.Key)
			}
			for _, candidate := range list {
				if matchEq(v, present, candidate) {
					hit = true
					break
				}
			}
			if op.Key == "$nin" {
				hit = !hit
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present || typeRank(v) != typeRank(op.Value) {
				hit = false
				break
			}
			c := compare(v, op.Value)
			switch op.Key {
			case "$gt":
				hit = c > 0
			case "$gte":
				hit = c >= 0
			case "$lt":
				hit = c < 0
			default:
				hit = c <= 0
			}
		default:
			return false, fmt.Errorf("memstore: unsupported query operator %s", op.Key)
		}
		if !hit {
			return false, nil
		}
	}
	return true, nil
}

// matchEq treats null as matching a missing field and lets a scalar match
// any element of an array field.
func matchEq(v any, present bool, want any) bool {
	if want == nil {
		return !present || v == nil
	}
	if !present {
		return false
	}
	if equal(v, want) {
		return true
	}
	if arr, ok := v.(bson.A); ok {
		for _, e := range arr {
			if equal(e, want) {
				return true
			}
		}
	}
	return false
}
