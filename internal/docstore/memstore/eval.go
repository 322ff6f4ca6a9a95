package memstore

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// eval evaluates an aggregation expression against doc. The boolean is false
// when the expression yields a missing value, which differs from null.
func eval(expr any, doc bson.D) (any, bool, error) {
	switch x := expr.(type) {
	case string:
		switch {
		case x == "$$ROOT":
			return doc, true, nil
		case x == "$$REMOVE":
			return nil, false, nil
		case strings.HasPrefix(x, "$$"):
			return nil, false, fmt.Errorf("memstore: unsupported variable %s", x)
		case strings.HasPrefix(x, "$"):
			v, ok := getPath(doc, x[1:])
			return v, ok, nil
		}
		return x, true, nil
	case bson.D:
		if len(x) == 1 && strings.HasPrefix(x[0].Key, "$") {
			return evalOperator(x[0].Key, x[0].Value, doc)
		}
		out := bson.D{}
		for _, e := range x {
			v, ok, err := eval(e.Value, doc)
			if err != nil {
				return nil, false, err
			}
			if ok {
				out = append(out, bson.E{Key: e.Key, Value: v})
			}
		}
		return out, true, nil
	case bson.A:
		out := make(bson.A, len(x))
		for i, e := range x {
			v, _, err := eval(e, doc)
			if err != nil {
				return nil, false, err
			}
			out[i] = v
		}
		return out, true, nil
	default:
		return expr, true, nil
	}
}

func operands(arg any) []any {
	if a, ok := arg.(bson.A); ok {
		return a
	}
	return []any{arg}
}

func evalOperands(arg any, doc bson.D) ([]any, []bool, error) {
	ops := operands(arg)
	vals := make([]any, len(ops))
	present := make([]bool, len(ops))
	for i, op := range ops {
		v, ok, err := eval(op, doc)
		if err != nil {
			return nil, nil, err
		}
		vals[i], present[i] = v, ok
	}
	return vals, present, nil
}

func evalOperator(op string, arg any, doc bson.D) (any, bool, error) {
	if op == "$literal" {
		return arg, true, nil
	}
	vals, present, err := evalOperands(arg, doc)
	if err != nil {
		return nil, false, err
	}
	nullish := func(i int) bool { return !present[i] || vals[i] == nil }

	switch op {
	case "$concat":
		var b strings.Builder
		for i, v := range vals {
			if nullish(i) {
				return nil, true, nil
			}
			s, ok := v.(string)
			if !ok {
				return nil, false, fmt.Errorf("memstore: $concat only supports strings, got %T", v)
			}
			b.WriteString(s)
		}
		return b.String(), true, nil

	case "$toUpper", "$toLower":
		if len(vals) != 1 {
			return nil, false, fmt.Errorf("memstore: %s takes exactly one argument", op)
		}
		if nullish(0) {
			return "", true, nil
		}
		s, err := stringify(vals[0])
		if err != nil {
			return nil, false, err
		}
		if op == "$toUpper" {
			return strings.ToUpper(s), true, nil
		}
		return strings.ToLower(s), true, nil

	case "$toString":
		if len(vals) != 1 {
			return nil, false, fmt.Errorf("memstore: $toString takes exactly one argument")
		}
		if nullish(0) {
			return nil, true, nil
		}
		s, err := stringify(vals[0])
		return s, err == nil, err

	case "$arrayElemAt":
		if len(vals) != 2 {
			return nil, false, fmt.Errorf("memstore: $arrayElemAt takes exactly two arguments")
		}
		if nullish(0) || nullish(1) {
			return nil, true, nil
		}
		arr, ok := vals[0].(bson.A)
		if !ok {
			return nil, false, fmt.Errorf("memstore: $arrayElemAt first argument must be an array, got %T", vals[0])
		}
		idx, ok := toInt(vals[1])
		if !ok {
			return nil, false, fmt.Errorf("memstore: $arrayElemAt index must be an integer")
		}
		if idx < 0 {
			idx += len(arr)
		}
		if idx < 0 || idx >= len(arr) {
			return nil, false, nil
		}
		return arr[idx], true, nil

	case "$ifNull":
		if len(vals) < 2 {
			return nil, false, fmt.Errorf("memstore: $ifNull takes at least two arguments")
		}
		for i := 0; i < len(vals)-1; i++ {
			if !nullish(i) {
				return vals[i], true, nil
			}
		}
		last := len(vals) - 1
		return vals[last], present[last], nil

	case "$add":
		var sum float64
		integral := true
		for i, v := range vals {
			if nullish(i) {
				return nil, true, nil
			}
			f, ok := toFloat(v)
			if !ok {
				return nil, false, fmt.Errorf("memstore: $add only supports numbers, got %T", v)
			}
			integral = integral && isInteger(v)
			sum += f
		}
		if integral {
			return int64(sum), true, nil
		}
		return sum, true, nil

	case "$eq", "$ne":
		if len(vals) != 2 {
			return nil, false, fmt.Errorf("memstore: %s takes exactly two arguments", op)
		}
		a, b := vals[0], vals[1]
		if !present[0] {
			a = nil
		}
		if !present[1] {
			b = nil
		}
		return equal(a, b) == (op == "$eq"), true, nil
	}
	return nil, false, fmt.Errorf("memstore: unsupported expression operator %s", op)
}

func stringify(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case primitive.ObjectID:
		return x.Hex(), nil
	}
	if isInteger(v) {
		f, _ := toFloat(v)
		return strconv.FormatInt(int64(f), 10), nil
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("memstore: cannot convert %T to string", v)
}
