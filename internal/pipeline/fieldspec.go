package pipeline

import "go.mongodb.org/mongo-driver/bson"

// Field is one entry of a FieldSpec.
type Field struct {
	Name  string
	Value any
}

// FieldSpec is an ordered field map: a $project body or any document whose
// key order must be stable. The zero value is empty and ready to use.
type FieldSpec struct {
	fields []Field
	index  map[string]int
}

// NewFieldSpec creates a FieldSpec from fields in order. Later duplicates
// replace earlier values in place.
func NewFieldSpec(fields ...Field) FieldSpec {
	var fs FieldSpec
	for _, f := range fields {
		fs.Set(f.Name, f.Value)
	}
	return fs
}

// Set adds name or replaces its value, keeping the original position.
func (fs *FieldSpec) Set(name string, value any) {
	if fs.index == nil {
		fs.index = make(map[string]int)
	}
	if i, ok := fs.index[name]; ok {
		fs.fields[i].Value = value
		return
	}
	fs.index[name] = len(fs.fields)
	fs.fields = append(fs.fields, Field{Name: name, Value: value})
}

// Get returns the value for name.
func (fs FieldSpec) Get(name string) (any, bool) {
	i, ok := fs.index[name]
	if !ok {
		return nil, false
	}
	return fs.fields[i].Value, true
}

// Has reports whether name is present.
func (fs FieldSpec) Has(name string) bool {
	_, ok := fs.index[name]
	return ok
}

// Len returns the number of fields.
func (fs FieldSpec) Len() int {
	return len(fs.fields)
}

// Names returns field names in order.
func (fs FieldSpec) Names() []string {
	names := make([]string, len(fs.fields))
	for i, f := range fs.fields {
		names[i] = f.Name
	}
	return names
}

// Fields returns a copy of the entries in order.
func (fs FieldSpec) Fields() []Field {
	out := make([]Field, len(fs.fields))
	copy(out, fs.fields)
	return out
}

// Clone returns an independent copy.
func (fs FieldSpec) Clone() FieldSpec {
	return NewFieldSpec(fs.fields...)
}

// BSON returns the ordered bson document form.
func (fs FieldSpec) BSON() bson.D {
	d := make(bson.D, len(fs.fields))
	for i, f := range fs.fields {
		d[i] = bson.E{Key: f.Name, Value: f.Value}
	}
	return d
}
