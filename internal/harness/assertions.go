package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/canon"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/requestfile"
)

// check evaluates the scenario expectations against res.
func check(ctx context.Context, s *Scenario, res *Result) []error {
	var errs []error
	want := fault.Kind(s.Expect.Error)
	switch {
	case want == "" && res.Err != nil:
		errs = append(errs, fmt.Errorf("expected success, got: %v", res.Err))
	case want != "" && res.Err == nil:
		errs = append(errs, fmt.Errorf("expected %s error, run succeeded", want))
	case want != "" && fault.KindOf(res.Err) != want:
		errs = append(errs, fmt.Errorf("expected %s error, got %s: %v", want, fault.KindOf(res.Err), res.Err))
	}
	for i := range s.Assertions {
		if err := evaluate(ctx, &s.Assertions[i], res); err != nil {
			errs = append(errs, fmt.Errorf("assertions[%d] (%s): %w", i, s.Assertions[i].Type, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, a *Assertion, res *Result) error {
	switch a.Type {
	case AssertCollection:
		return assertCollection(a, res)
	case AssertCollections:
		names, err := res.Store.CollectionNames(ctx)
		if err != nil {
			return err
		}
		return sameStrings(a.Names, names)
	case AssertIndexes:
		ixs, err := res.Store.ListIndexes(ctx, a.Collection)
		if err != nil {
			return err
		}
		names := make([]string, len(ixs))
		for i, ix := range ixs {
			names[i] = ix.Name
		}
		return sameStrings(a.Names, names)
	case AssertEvents:
		return assertEventOrder(a.Kinds, res)
	case AssertCount:
		if n := len(res.Store.Docs(a.Collection)); n != a.Count {
			return fmt.Errorf("expected %d documents in %s, found %d", a.Count, a.Collection, n)
		}
		return nil
	case AssertResult:
		if res.Merge == nil {
			return fmt.Errorf("no merge result")
		}
		if a.Renamed != nil && *a.Renamed != res.Merge.Renamed {
			return fmt.Errorf("expected renamed=%d, got %d", *a.Renamed, res.Merge.Renamed)
		}
		if a.Defaulted != nil && *a.Defaulted != res.Merge.Defaulted {
			return fmt.Errorf("expected defaulted=%d, got %d", *a.Defaulted, res.Merge.Defaulted)
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertCollection(a *Assertion, res *Result) error {
	v, err := requestfile.DecodeYAMLValue(&a.Docs)
	if err != nil {
		return err
	}
	list, ok := v.(bson.A)
	if !ok {
		return fmt.Errorf("docs must be a list")
	}
	want := make([]string, len(list))
	for i, d := range list {
		b, err := canon.Marshal(d)
		if err != nil {
			return err
		}
		want[i] = string(b)
	}
	got, err := canonicalDocs(res.Store.Docs(a.Collection))
	if err != nil {
		return err
	}
	if !slices.Equal(want, got) {
		return fmt.Errorf("documents of %s differ\nwant: %v\ngot:  %v", a.Collection, want, got)
	}
	return nil
}

// canonicalDocs renders docs without _id as canonical JSON.
func canonicalDocs(docs []bson.D) ([]string, error) {
	out := make([]string, len(docs))
	for i, d := range docs {
		b, err := canon.Marshal(withoutID(d))
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}

func withoutID(d bson.D) bson.D {
	out := make(bson.D, 0, len(d))
	for _, e := range d {
		if e.Key != "_id" {
			out = append(out, e)
		}
	}
	return out
}

func sameStrings(want, got []string) error {
	w := append([]string(nil), want...)
	g := append([]string(nil), got...)
	sort.Strings(w)
	sort.Strings(g)
	if !slices.Equal(w, g) {
		return fmt.Errorf("expected %v, got %v", w, g)
	}
	return nil
}

// assertEventOrder checks that kinds occur in the event stream in order,
// not necessarily adjacent.
func assertEventOrder(kinds []string, res *Result) error {
	next := 0
	for _, e := range res.Events {
		if next < len(kinds) && string(e.Kind) == kinds[next] {
			next++
		}
	}
	if next < len(kinds) {
		return fmt.Errorf("event %q not found in order (matched %d of %d)", kinds[next], next, len(kinds))
	}
	return nil
}
