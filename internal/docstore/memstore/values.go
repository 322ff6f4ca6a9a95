package memstore

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalize deep-converts maps to bson.D (keys sorted) and slices to bson.A
// so the interpreter only deals with one document and one array shape.
func normalize(v any) any {
	switch x := v.(type) {
	case bson.D:
		out := make(bson.D, len(x))
		for i, e := range x {
			out[i] = bson.E{Key: e.Key, Value: normalize(e.Value)}
		}
		return out
	case bson.M:
		return fromMap(x)
	case map[string]any:
		return fromMap(x)
	case bson.A:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []any:
		return normalize(bson.A(x))
	case []string:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case []bson.D:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

func fromMap(m map[string]any) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(bson.D, 0, len(keys))
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: normalize(m[k])})
	}
	return out
}

func normalizeDoc(v any) (bson.D, error) {
	d, ok := normalize(v).(bson.D)
	if !ok {
		return nil, fmt.Errorf("memstore: expected document, got %T", v)
	}
	return d, nil
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case bson.D:
		return cloneDoc(x)
	case bson.A:
		out := make(bson.A, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneDoc(d bson.D) bson.D {
	if d == nil {
		return nil
	}
	out := make(bson.D, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: e.Key, Value: cloneValue(e.Value)}
	}
	return out
}

// getPath resolves a dotted path. Numeric segments index into arrays.
func getPath(doc bson.D, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		switch c := cur.(type) {
		case bson.D:
			v, ok := getField(c, seg)
			if !ok {
				return nil, false
			}
			cur = v
		case bson.A:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func getField(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// setPath sets a dotted path, creating intermediate documents.
func setPath(doc bson.D, path string, v any) bson.D {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		for i, e := range doc {
			if e.Key == head {
				doc[i].Value = v
				return doc
			}
		}
		return append(doc, bson.E{Key: head, Value: v})
	}
	for i, e := range doc {
		if e.Key == head {
			sub, ok := e.Value.(bson.D)
			if !ok {
				sub = bson.D{}
			}
			doc[i].Value = setPath(sub, rest, v)
			return doc
		}
	}
	return append(doc, bson.E{Key: head, Value: setPath(bson.D{}, rest, v)})
}

func unsetPath(doc bson.D, path string) bson.D {
	head, rest, nested := strings.Cut(path, ".")
	for i, e := range doc {
		if e.Key != head {
			continue
		}
		if !nested {
			return append(doc[:i:i], doc[i+1:]...)
		}
		if sub, ok := e.Value.(bson.D); ok {
			doc[i].Value = unsetPath(sub, rest)
		}
		return doc
	}
	return doc
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func isInteger(v any) bool {
	switch v.(type) {
	case float32, float64:
		return false
	}
	_, ok := toFloat(v)
	return ok
}

// equal is document-store equality: numbers compare by value, documents
// compare field by field in order.
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case primitive.ObjectID:
		y, ok := b.(primitive.ObjectID)
		return ok && x == y
	case bson.D:
		y, ok := b.(bson.D)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i].Key != y[i].Key || !equal(x[i].Value, y[i].Value) {
				return false
			}
		}
		return true
	case bson.A:
		y, ok := b.(bson.A)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equal(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func typeRank(v any) int {
	if _, ok := toFloat(v); ok {
		return 2
	}
	switch v.(type) {
	case nil:
		return 1
	case string:
		return 3
	case bson.D:
		return 4
	case bson.A:
		return 5
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time, primitive.DateTime:
		return 9
	default:
		return 10
	}
}

// compare orders values the way the store sorts them: by type class, then
// by value within the class.
func compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case primitive.ObjectID:
		return strings.Compare(x.Hex(), b.(primitive.ObjectID).Hex())
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case primitive.DateTime:
		if y, ok := b.(primitive.DateTime); ok {
			return x.Time().Compare(y.Time())
		}
	}
	if fa, ok := toFloat(a); ok {
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
	}
	return 0
}
