package harness

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/docstore/memstore"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/keytoken"
	"github.com/roach88/docmerge/internal/logging"
	"github.com/roach88/docmerge/internal/merge"
	"github.com/roach88/docmerge/internal/requestfile"
	"github.com/roach88/docmerge/internal/testutil"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Merge is the result of the final run or resume; nil on failure.
	Merge *merge.Result

	// Err is the final error, after recovery if any.
	Err error

	// Plan is the plan of the run.
	Plan *merge.Plan

	// Events are the events of the run and any resume.
	Events []merge.Event

	// Store holds the final state.
	Store *memstore.Store

	// Errors are failed assertions; empty means the scenario passed.
	Errors []error
}

// Pass reports whether every expectation held.
func (r *Result) Pass() bool { return len(r.Errors) == 0 }

// Run executes a scenario on a fresh in-memory store and checks its
// expectations. The returned error reports a scenario that could not be
// set up; expectation failures land in Result.Errors.
func Run(s *Scenario) (*Result, error) {
	ctx := context.Background()
	st := memstore.New()
	if err := seed(ctx, st, s); err != nil {
		return nil, err
	}
	req, err := requestfile.Decode(&s.Request)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	swap, err := merge.ParseSwapMode(s.SwapMode)
	if err != nil {
		return nil, err
	}
	salt := s.Salt
	if salt == "" {
		salt = s.Name
	}

	rec := &testutil.Recorder{}
	e := merge.New(st,
		merge.WithSaltSource(keytoken.NewFixedSource(salt)),
		merge.WithSwapMode(swap),
		merge.WithObserver(rec),
		merge.WithLogger(logging.Discard()),
	)
	for _, f := range s.Faults {
		st.FailOn(memstore.Op(f.Op), f.Collection, errors.New(f.Message))
	}

	res := &Result{Store: st}
	rc, err := keytoken.NewRunContext(keytoken.NewFixedSource(salt))
	if err != nil {
		return nil, err
	}
	if plan, err := e.Plan(req, rc); err == nil {
		res.Plan = plan
	}

	res.Merge, res.Err = e.Run(ctx, req)
	if res.Err != nil && s.Recover {
		st.ClearFailures()
		res.Merge, res.Err = resume(ctx, e, res.Plan, rec)
	}
	res.Events = rec.Events()
	res.Errors = check(ctx, s, res)
	return res, nil
}

func resume(ctx context.Context, e *merge.Engine, plan *merge.Plan, rec *testutil.Recorder) (*merge.Result, error) {
	steps := rec.Steps()
	if plan == nil || len(steps) == 0 {
		return nil, fault.Validation("nothing to recover: the run failed before FINALIZE")
	}
	return e.Resume(ctx, plan, steps[len(steps)-1])
}

func seed(ctx context.Context, st *memstore.Store, s *Scenario) error {
	if s.Seed.Kind != 0 {
		v, err := requestfile.DecodeYAMLValue(&s.Seed)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		colls, ok := v.(bson.D)
		if !ok {
			return fmt.Errorf("seed must map collection names to document lists")
		}
		for _, c := range colls {
			list, ok := c.Value.(bson.A)
			if !ok {
				return fmt.Errorf("seed %q must be a list", c.Key)
			}
			if len(list) == 0 {
				if err := st.CreateCollection(ctx, c.Key); err != nil {
					return err
				}
				continue
			}
			if err := st.Seed(c.Key, list...); err != nil {
				return fmt.Errorf("seed %q: %w", c.Key, err)
			}
		}
	}
	for coll, steps := range s.Indexes {
		defs := make([]docstore.IndexDef, 0, len(steps))
		for i, ix := range steps {
			v, err := requestfile.DecodeYAMLValue(&ix.Keys)
			if err != nil {
				return fmt.Errorf("indexes %q[%d]: %w", coll, i, err)
			}
			keys, ok := v.(bson.D)
			if !ok || len(keys) == 0 {
				return fmt.Errorf("indexes %q[%d]: keys must be a non-empty mapping", coll, i)
			}
			name := ix.Name
			if name == "" {
				name = memstore.IndexName(keys)
			}
			defs = append(defs, docstore.IndexDef{Name: name, Keys: keys, Unique: ix.Unique, Sparse: ix.Sparse})
		}
		if err := st.CreateIndexes(ctx, coll, defs); err != nil {
			return fmt.Errorf("indexes %q: %w", coll, err)
		}
	}
	return nil
}
