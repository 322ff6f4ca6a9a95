// Package staging manages the transient collections a merge run
// materializes into: naming, idempotent (re)creation with indexes, drops,
// and the prefix sweep that reclaims orphans left by crashed runs.
package staging

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/docmerge/internal/batch"
	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/keytoken"
)

// DefaultPrefix marks staging collections.
const DefaultPrefix = "AG_"

// Purpose is the role of a staging collection within a run.
type Purpose string

const (
	PurposeLookupTemp Purpose = "lookup-temp"
	PurposeSourceTemp Purpose = "source-temp"
)

// Handle names one staging collection. It lives for one merge run and is
// either dropped or consumed by the terminal rename.
type Handle struct {
	Name    string
	Purpose Purpose
	Base    string
	Run     keytoken.RunContext
}

// Manager creates and drops staging collections on a store.
type Manager struct {
	store  docstore.Store
	prefix string
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(m *Manager) { m.prefix = prefix }
}

// WithLogger sets the logger for create/drop events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager over st.
func NewManager(st docstore.Store, opts ...Option) *Manager {
	m := &Manager{store: st, prefix: DefaultPrefix, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Prefix returns the staging name prefix.
func (m *Manager) Prefix() string { return m.prefix }

// Handle derives the staging collection for base under purpose. Lookup and
// source staging names use distinct token purposes, so a run whose source
// and lookup are the same collection still gets two names.
func (m *Manager) Handle(purpose Purpose, base string, rc keytoken.RunContext) Handle {
	tp := keytoken.PurposeSourceStaging
	if purpose == PurposeLookupTemp {
		tp = keytoken.PurposeLookupStaging
	}
	return Handle{
		Name:    m.prefix + keytoken.Token(tp, base, rc.Salt),
		Purpose: purpose,
		Base:    base,
		Run:     rc,
	}
}

// Ensure makes name exist. An absent collection is created and indexed. A
// present one is left alone unless dropIfExists, in which case it is
// dropped and recreated with indexes. A nil spec creates no indexes.
func (m *Manager) Ensure(ctx context.Context, name string, dropIfExists bool, spec IndexSpec) error {
	var defs []docstore.IndexDef
	if spec != nil {
		var err error
		if defs, err = spec.Defs(); err != nil {
			return err
		}
	}

	exists, err := m.store.CollectionExists(ctx, name)
	if err != nil {
		return fault.Operation("exists", name, err)
	}
	if exists {
		if !dropIfExists {
			return nil
		}
		if err := m.store.DropCollection(ctx, name); err != nil {
			return fault.Operation("drop", name, err)
		}
	}
	if err := m.store.CreateCollection(ctx, name); err != nil {
		return fault.Operation("create", name, err)
	}
	if len(defs) > 0 {
		if err := m.store.CreateIndexes(ctx, name, defs); err != nil {
			return fault.Operation("createIndexes", name, err)
		}
	}
	m.logger.Debug("staging collection ready",
		"collection", name,
		"recreated", exists,
		"indexes", len(defs),
		"index_shape", shapeOf(spec),
	)
	return nil
}

func shapeOf(spec IndexSpec) string {
	if spec == nil {
		return "none"
	}
	return describe(spec)
}

// Drop drops name; absent collections are not an error.
func (m *Manager) Drop(ctx context.Context, name string) error {
	if err := m.store.DropCollection(ctx, name); err != nil {
		return fault.Operation("drop", name, err)
	}
	m.logger.Debug("staging collection dropped", "collection", name)
	return nil
}

// DropAll drops every name concurrently; the first failure is returned.
func (m *Manager) DropAll(ctx context.Context, names ...string) error {
	ops := make([]batch.Op, len(names))
	for i, name := range names {
		ops[i] = func(ctx context.Context) error { return m.Drop(ctx, name) }
	}
	return batch.Run(ctx, ops...)
}

// Sweep drops every collection whose name satisfies pred and returns the
// names it matched, sorted.
func (m *Manager) Sweep(ctx context.Context, pred func(string) bool) ([]string, error) {
	names, err := m.store.CollectionNames(ctx)
	if err != nil {
		return nil, fault.Operation("listCollections", "", err)
	}
	var matched []string
	for _, n := range names {
		if pred(n) {
			matched = append(matched, n)
		}
	}
	sort.Strings(matched)
	if err := m.DropAll(ctx, matched...); err != nil {
		return nil, err
	}
	m.logger.Info("swept staging collections", "count", len(matched))
	return matched, nil
}

// HasPrefix returns a Sweep predicate matching names that start with prefix.
func HasPrefix(prefix string) func(string) bool {
	return func(name string) bool { return strings.HasPrefix(name, prefix) }
}

// Names returns a Sweep predicate matching exactly the given names.
func Names(names ...string) func(string) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[name]
		return ok
	}
}
