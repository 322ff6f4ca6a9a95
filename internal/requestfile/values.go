package requestfile

import (
	"fmt"
	"strconv"

	"cuelang.org/go/cue"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// fromYAML converts a node to bson values, keeping mapping key order.
// Mappings become bson.D, sequences bson.A.
func fromYAML(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromYAML(n.Content[0])
	case yaml.AliasNode:
		return fromYAML(n.Alias)
	case yaml.MappingNode:
		d := make(bson.D, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode {
				return nil, posErr(k, "mapping key must be a scalar")
			}
			v, err := fromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			d = append(d, bson.E{Key: k.Value, Value: v})
		}
		return d, nil
	case yaml.SequenceNode:
		a := make(bson.A, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			a = append(a, v)
		}
		return a, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return nil, posErr(n, "unsupported YAML node")
}

func scalar(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, posErr(n, err.Error())
		}
		return b, nil
	case "!!int":
		i, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return nil, posErr(n, err.Error())
		}
		if int64(int32(i)) == i {
			return int32(i), nil
		}
		return i, nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, posErr(n, err.Error())
		}
		return f, nil
	}
	return n.Value, nil
}

func posErr(n *yaml.Node, msg string) error {
	return fmt.Errorf("line %d, column %d: %s", n.Line, n.Column, msg)
}

// fromCUE converts a concrete CUE value to bson values. Struct field order
// is kept.
func fromCUE(v cue.Value) (any, error) {
	if err := v.Err(); err != nil {
		return nil, err
	}
	switch v.IncompleteKind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		return v.Bool()
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, err
		}
		if int64(int32(i)) == i {
			return int32(i), nil
		}
		return i, nil
	case cue.FloatKind, cue.NumberKind:
		return v.Float64()
	case cue.StringKind:
		return v.String()
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		var d bson.D
		for iter.Next() {
			fv, err := fromCUE(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Label(), err)
			}
			d = append(d, bson.E{Key: label(iter.Label()), Value: fv})
		}
		if d == nil {
			d = bson.D{}
		}
		return d, nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, err
		}
		a := bson.A{}
		for iter.Next() {
			ev, err := fromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			a = append(a, ev)
		}
		return a, nil
	}
	return nil, fmt.Errorf("value at %s is not concrete (kind %s)", v.Path(), v.IncompleteKind())
}

// label unquotes labels CUE renders as string literals.
func label(l string) string {
	if u, err := strconv.Unquote(l); err == nil {
		return u
	}
	return l
}
