// Package memstore is an in-memory docstore.Store.
//
// It interprets the subset of the aggregation language the merge engine
// emits, plus the common stages callers use as pre-aggregation, so merges
// can run offline (tests, --dry-run). Unsupported stages and operators fail
// loudly instead of being ignored.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/roach88/docmerge/internal/canon"
	"github.com/roach88/docmerge/internal/docstore"
)

var (
	ErrNamespaceNotFound = errors.New("memstore: namespace not found")
	ErrNamespaceExists   = errors.New("memstore: namespace already exists")
	ErrDuplicateKey      = errors.New("memstore: duplicate key")
	ErrIndexConflict     = errors.New("memstore: index options conflict")
	ErrClosed            = errors.New("memstore: store is closed")
)

// Op names a store operation for call recording and fault injection.
type Op string

const (
	OpListCollections Op = "listCollections"
	OpCreate          Op = "create"
	OpDrop            Op = "drop"
	OpRename          Op = "rename"
	OpListIndexes     Op = "listIndexes"
	OpCreateIndexes   Op = "createIndexes"
	OpFindOne         Op = "findOne"
	OpFind            Op = "find"
	OpInsert          Op = "insert"
	OpUpdate          Op = "update"
	OpDelete          Op = "delete"
	OpAggregate       Op = "aggregate"
)

// Call is one recorded operation.
type Call struct {
	Op         Op
	Collection string
}

type failure struct {
	op         Op
	collection string
	err        error
}

type collection struct {
	docs    []bson.D
	indexes []docstore.IndexDef
}

func newCollection() *collection {
	return &collection{indexes: []docstore.IndexDef{{
		Name: docstore.IDIndexName,
		Keys: bson.D{{Key: "_id", Value: int32(1)}},
	}}}
}

// Store is safe for concurrent use; every operation holds one lock.
type Store struct {
	mu       sync.Mutex
	colls    map[string]*collection
	failures []failure
	calls    []Call
	closed   bool
}

var _ docstore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{colls: make(map[string]*collection)}
}

// Close makes every later operation fail with ErrClosed.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FailOn makes every later op on collection ("" = any) return err.
func (s *Store) FailOn(op Op, collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{op: op, collection: collection, err: err})
}

// ClearFailures removes every injected failure.
func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
}

// Calls returns the operations issued so far, in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Seed inserts documents given as bson.D, bson.M or map[string]any.
func (s *Store) Seed(collection string, docs ...any) error {
	ds := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		nd, err := normalizeDoc(d)
		if err != nil {
			return err
		}
		ds = append(ds, nd)
	}
	return s.InsertMany(context.Background(), collection, ds)
}

// Docs returns a copy of the documents of collection in storage order.
func (s *Store) Docs(collection string) []bson.D {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[collection]
	if !ok {
		return nil
	}
	out := make([]bson.D, len(c.docs))
	for i, d := range c.docs {
		out[i] = cloneDoc(d)
	}
	return out
}

// begin records the call and returns an injected failure, if any. Callers
// hold s.mu.
func (s *Store) begin(ctx context.Context, op Op, collection string) error {
	s.calls = append(s.calls, Call{Op: op, Collection: collection})
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, f := range s.failures {
		if f.op == op && (f.collection == "" || f.collection == collection) {
			return f.err
		}
	}
	return nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, "$\x00") {
		return fmt.Errorf("memstore: invalid collection name %q", name)
	}
	return nil
}

func (s *Store) CollectionNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpListCollections, ""); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.colls))
	for n := range s.colls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpListCollections, name); err != nil {
		return false, err
	}
	_, ok := s.colls[name]
	return ok, nil
}

func (s *Store) CreateCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpCreate, name); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}
	if _, ok := s.colls[name]; ok {
		return fmt.Errorf("%w: %s", ErrNamespaceExists, name)
	}
	s.colls[name] = newCollection()
	return nil
}

func (s *Store) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpDrop, name); err != nil {
		return err
	}
	delete(s.colls, name)
	return nil
}

func (s *Store) RenameCollection(ctx context.Context, from, to string, dropTarget bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpRename, from); err != nil {
		return err
	}
	if err := checkName(to); err != nil {
		return err
	}
	c, ok := s.colls[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, from)
	}
	if from == to {
		return fmt.Errorf("memstore: cannot rename %s to itself", from)
	}
	if _, exists := s.colls[to]; exists && !dropTarget {
		return fmt.Errorf("%w: %s", ErrNamespaceExists, to)
	}
	s.colls[to] = c
	delete(s.colls, from)
	return nil
}

func (s *Store) ListIndexes(ctx context.Context, collection string) ([]docstore.IndexDef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpListIndexes, collection); err != nil {
		return nil, err
	}
	c, ok := s.colls[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, collection)
	}
	out := make([]docstore.IndexDef, len(c.indexes))
	for i, ix := range c.indexes {
		ix.Keys = cloneDoc(ix.Keys)
		out[i] = ix
	}
	return out, nil
}

// IndexName is the default name for an index over keys, e.g. "a_1_b_-1".
func IndexName(keys bson.D) string {
	parts := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		parts = append(parts, k.Key, fmt.Sprint(k.Value))
	}
	return strings.Join(parts, "_")
}

func (s *Store) CreateIndexes(ctx context.Context, collection string, indexes []docstore.IndexDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpCreateIndexes, collection); err != nil {
		return err
	}
	if err := checkName(collection); err != nil {
		return err
	}
	c, ok := s.colls[collection]
	if !ok {
		c = newCollection()
		s.colls[collection] = c
	}
	for _, ix := range indexes {
		if len(ix.Keys) == 0 {
			return fmt.Errorf("memstore: index on %s has no keys", collection)
		}
		ix.Keys = normalize(ix.Keys).(bson.D)
		if ix.Name == "" {
			ix.Name = IndexName(ix.Keys)
		}
		if existing, found := findIndex(c.indexes, ix.Name); found {
			if !equal(existing.Keys, ix.Keys) || existing.Unique != ix.Unique || existing.Sparse != ix.Sparse {
				return fmt.Errorf("%w: %s.%s", ErrIndexConflict, collection, ix.Name)
			}
			continue
		}
		if ix.Unique {
			if err := checkUnique(c.docs, []docstore.IndexDef{ix}); err != nil {
				return err
			}
		}
		c.indexes = append(c.indexes, ix)
	}
	return nil
}

func findIndex(indexes []docstore.IndexDef, name string) (docstore.IndexDef, bool) {
	for _, ix := range indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return docstore.IndexDef{}, false
}

func (s *Store) FindOne(ctx context.Context, collection string, filter bson.D) (bson.D, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpFindOne, collection); err != nil {
		return nil, err
	}
	c, ok := s.colls[collection]
	if !ok {
		return nil, docstore.ErrNoDocuments
	}
	f, err := normalizeDoc(orEmpty(filter))
	if err != nil {
		return nil, err
	}
	for _, d := range c.docs {
		hit, err := matches(d, f)
		if err != nil {
			return nil, err
		}
		if hit {
			return cloneDoc(d), nil
		}
	}
	return nil, docstore.ErrNoDocuments
}

func (s *Store) Find(ctx context.Context, collection string, filter, projection bson.D) ([]bson.D, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpFind, collection); err != nil {
		return nil, err
	}
	c, ok := s.colls[collection]
	if !ok {
		return nil, nil
	}
	f, err := normalizeDoc(orEmpty(filter))
	if err != nil {
		return nil, err
	}
	var out []bson.D
	for _, d := range c.docs {
		hit, err := matches(d, f)
		if err != nil {
			return nil, err
		}
		if !hit {
			continue
		}
		doc := cloneDoc(d)
		if len(projection) > 0 {
			if doc, err = project(doc, normalize(projection).(bson.D)); err != nil {
				return nil, err
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) InsertMany(ctx context.Context, collection string, docs []bson.D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpInsert, collection); err != nil {
		return err
	}
	if err := checkName(collection); err != nil {
		return err
	}
	c, ok := s.colls[collection]
	if !ok {
		c = newCollection()
	}
	added := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		added = append(added, withID(normalize(d).(bson.D)))
	}
	all := append(append([]bson.D(nil), c.docs...), added...)
	if err := checkUnique(all, c.indexes); err != nil {
		return err
	}
	c.docs = all
	s.colls[collection] = c
	return nil
}

func (s *Store) UpdateMany(ctx context.Context, collection string, filter, update bson.D) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpUpdate, collection); err != nil {
		return 0, err
	}
	c, ok := s.colls[collection]
	if !ok {
		return 0, nil
	}
	f, err := normalizeDoc(orEmpty(filter))
	if err != nil {
		return 0, err
	}
	u, err := normalizeDoc(update)
	if err != nil {
		return 0, err
	}
	var n int64
	for i, d := range c.docs {
		hit, err := matches(d, f)
		if err != nil {
			return n, err
		}
		if !hit {
			continue
		}
		updated, err := applyUpdate(d, u)
		if err != nil {
			return n, err
		}
		c.docs[i] = updated
		n++
	}
	return n, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, filter bson.D) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpDelete, collection); err != nil {
		return 0, err
	}
	c, ok := s.colls[collection]
	if !ok {
		return 0, nil
	}
	f, err := normalizeDoc(orEmpty(filter))
	if err != nil {
		return 0, err
	}
	kept := c.docs[:0:0]
	for _, d := range c.docs {
		hit, err := matches(d, f)
		if err != nil {
			return 0, err
		}
		if !hit {
			kept = append(kept, d)
		}
	}
	n := int64(len(c.docs) - len(kept))
	c.docs = kept
	return n, nil
}

func (s *Store) Aggregate(ctx context.Context, collection string, pipeline []bson.D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(ctx, OpAggregate, collection); err != nil {
		return err
	}
	var input []bson.D
	if c, ok := s.colls[collection]; ok {
		input = make([]bson.D, len(c.docs))
		for i, d := range c.docs {
			input[i] = cloneDoc(d)
		}
	}
	return s.runPipeline(input, pipeline)
}

func orEmpty(d bson.D) bson.D {
	if d == nil {
		return bson.D{}
	}
	return d
}

func withID(d bson.D) bson.D {
	if _, ok := getField(d, "_id"); ok {
		return d
	}
	return append(bson.D{{Key: "_id", Value: primitive.NewObjectID()}}, d...)
}

// checkUnique enforces the identity index and every unique index.
func checkUnique(docs []bson.D, indexes []docstore.IndexDef) error {
	for _, ix := range indexes {
		if ix.Name != docstore.IDIndexName && !ix.Unique {
			continue
		}
		seen := make(map[string]struct{}, len(docs))
		for _, d := range docs {
			key, skip := indexKey(d, ix)
			if skip {
				continue
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w: index %s key %s", ErrDuplicateKey, ix.Name, key)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

func indexKey(d bson.D, ix docstore.IndexDef) (string, bool) {
	vals := make([]any, len(ix.Keys))
	anyPresent := false
	for i, k := range ix.Keys {
		v, ok := getPath(d, k.Key)
		anyPresent = anyPresent || ok
		vals[i] = v
	}
	if ix.Sparse && !anyPresent {
		return "", true
	}
	b, err := canon.Marshal(vals)
	if err != nil {
		return fmt.Sprintf("%#v", vals), false
	}
	return string(b), false
}
