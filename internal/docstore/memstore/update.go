package memstore

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// applyUpdate applies update operators $set, $unset and $rename.
func applyUpdate(doc bson.D, update bson.D) (bson.D, error) {
	if len(update) == 0 {
		return nil, fmt.Errorf("memstore: empty update document")
	}
	out := cloneDoc(doc)
	for _, op := range update {
		fields, ok := op.Value.(bson.D)
		if !ok {
			return nil, fmt.Errorf("memstore: %s needs a document", op.Key)
		}
		for _, f := range fields {
			if f.Key == "_id" || strings.HasPrefix(f.Key, "_id.") {
				return nil, fmt.Errorf("memstore: %s would modify the immutable field _id", op.Key)
			}
			switch op.Key {
			case "$set":
				out = setPath(out, f.Key, cloneValue(f.Value))
			case "$unset":
				out = unsetPath(out, f.Key)
			case "$rename":
				to, ok := f.Value.(string)
				if !ok || to == "" || to == f.Key {
					return nil, fmt.Errorf("memstore: invalid $rename target for %s", f.Key)
				}
				v, present := getPath(out, f.Key)
				if !present {
					continue
				}
				out = setPath(unsetPath(out, f.Key), to, v)
			default:
				return nil, fmt.Errorf("memstore: unsupported update operator %s", op.Key)
			}
		}
	}
	return out, nil
}
