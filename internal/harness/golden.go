package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/canon"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/merge"
)

// Snapshot is the deterministic record of a scenario run. Staging
// collections appear by role, so snapshots do not depend on the salt.
type Snapshot struct {
	Scenario    string
	Error       fault.Kind
	Events      []merge.Event
	Collections map[string][]bson.D
	roles       map[string]string
}

func newSnapshot(name string, res *Result) (*Snapshot, error) {
	s := &Snapshot{Scenario: name, Events: res.Events, Collections: map[string][]bson.D{}, roles: map[string]string{}}
	if res.Err != nil {
		s.Error = fault.KindOf(res.Err)
	}
	if res.Plan != nil {
		s.roles[res.Plan.LookupTemp.Name] = "<lookup-temp>"
		s.roles[res.Plan.SourceTemp.Name] = "<source-temp>"
	}
	names, err := res.Store.CollectionNames(context.Background())
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		docs := res.Store.Docs(n)
		for i, d := range docs {
			docs[i] = withoutID(d)
		}
		s.Collections[s.role(n)] = docs
	}
	return s, nil
}

func (s *Snapshot) role(name string) string {
	if r, ok := s.roles[name]; ok {
		return r
	}
	return name
}

// toCanonicalMap converts the snapshot for canonical JSON serialization.
func (s *Snapshot) toCanonicalMap() map[string]any {
	events := make([]any, len(s.Events))
	for i, e := range s.Events {
		m := map[string]any{"kind": string(e.Kind)}
		if e.Phase != "" {
			m["phase"] = string(e.Phase)
		}
		if e.Step != "" {
			m["step"] = string(e.Step)
		}
		if e.Collection != "" {
			m["collection"] = s.role(e.Collection)
		}
		if e.Err != nil {
			m["failed"] = true
		}
		events[i] = m
	}
	colls := make(map[string]any, len(s.Collections))
	for name, docs := range s.Collections {
		list := make(bson.A, len(docs))
		for i, d := range docs {
			list[i] = d
		}
		colls[name] = list
	}
	out := map[string]any{
		"scenario":    s.Scenario,
		"events":      events,
		"collections": colls,
	}
	if s.Error != "" {
		out["error"] = string(s.Error)
	}
	return out
}

// Marshal renders the snapshot as canonical JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return canon.Marshal(s.toCanonicalMap())
}

// MarshalSnapshot renders the snapshot of a scenario run.
func MarshalSnapshot(s *Scenario, res *Result) ([]byte, error) {
	snap, err := newSnapshot(s.Name, res)
	if err != nil {
		return nil, err
	}
	return snap.Marshal()
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can make further checks; expectation
// failures are reported through t.
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, e := range result.Errors {
		t.Error(e)
	}

	b, err := MarshalSnapshot(scenario, result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, b)
	return result
}
