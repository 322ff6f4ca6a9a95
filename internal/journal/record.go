package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/keytoken"
	"github.com/roach88/docmerge/internal/merge"
	"github.com/roach88/docmerge/internal/staging"
)

type runStatus string

const (
	statusRunning   runStatus = "running"
	statusSucceeded runStatus = "succeeded"
	statusFailed    runStatus = "failed"
)

type stagingState string

const (
	stateCreated  stagingState = "created"
	stateDropped  stagingState = "dropped"
	stateConsumed stagingState = "consumed"
)

// planRecord is the part of a plan FINALIZE needs.
type planRecord struct {
	Salt       string         `bson:"salt"`
	Source     string         `bson:"source"`
	Lookup     string         `bson:"lookup"`
	LookupTemp string         `bson:"lookupTemp"`
	SourceTemp string         `bson:"sourceTemp"`
	Swap       string         `bson:"swap"`
	Outputs    []outputRecord `bson:"outputs"`
}

type outputRecord struct {
	Field   string `bson:"field"`
	Alias   string `bson:"alias"`
	Target  string `bson:"target"`
	Join    string `bson:"join"`
	Default any    `bson:"default,omitempty"`
}

func encodePlan(p *merge.Plan) (string, error) {
	rec := planRecord{
		Salt:       p.Run.Salt,
		Source:     p.Source,
		Lookup:     p.Lookup,
		LookupTemp: p.LookupTemp.Name,
		SourceTemp: p.SourceTemp.Name,
		Swap:       string(p.Swap),
		Outputs:    make([]outputRecord, len(p.Outputs)),
	}
	for i, o := range p.Outputs {
		rec.Outputs[i] = outputRecord(o)
	}
	b, err := bson.MarshalExtJSON(rec, true, false)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(b), nil
}

func decodePlan(s string) (*merge.Plan, error) {
	var rec planRecord
	if err := bson.UnmarshalExtJSON([]byte(s), true, &rec); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	swap, err := merge.ParseSwapMode(rec.Swap)
	if err != nil {
		return nil, err
	}
	rc := keytoken.RunContext{Salt: rec.Salt}
	p := &merge.Plan{
		Run:        rc,
		Source:     rec.Source,
		Lookup:     rec.Lookup,
		LookupTemp: staging.Handle{Name: rec.LookupTemp, Purpose: staging.PurposeLookupTemp, Base: rec.Lookup, Run: rc},
		SourceTemp: staging.Handle{Name: rec.SourceTemp, Purpose: staging.PurposeSourceTemp, Base: rec.Source, Run: rc},
		Swap:       swap,
		Outputs:    make([]merge.Output, len(rec.Outputs)),
	}
	for i, o := range rec.Outputs {
		p.Outputs[i] = merge.Output(o)
	}
	return p, nil
}

// Observe records ev. Write failures are logged and kept for Err; they
// never interrupt the run.
func (j *Journal) Observe(ev merge.Event) {
	if ev.Plan == nil {
		return
	}
	ctx, cancel := withContext()
	defer cancel()
	if err := j.record(ctx, ev); err != nil {
		j.logger.Error("journal write failed", "event", string(ev.Kind), "run", ev.Plan.Run.Salt, "error", err)
		j.recordErr(err)
	}
}

func (j *Journal) record(ctx context.Context, ev merge.Event) error {
	run := ev.Plan.Run.Salt
	now := j.now().UnixNano()
	switch ev.Kind {
	case merge.EventRunStarted:
		plan, err := encodePlan(ev.Plan)
		if err != nil {
			return err
		}
		_, err = j.db.ExecContext(ctx, `
			INSERT INTO runs (id, source, lookup, swap_mode, plan, status, started_at, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				plan = excluded.plan, status = excluded.status, phase = NULL, error = NULL,
				started_at = excluded.started_at, finished_at = NULL, seq = excluded.seq`,
			run, ev.Plan.Source, ev.Plan.Lookup, string(ev.Plan.Swap), plan, statusRunning, now, j.clock.Next())
		return err

	case merge.EventPhaseStarted:
		return j.exec(ctx, `UPDATE runs SET phase = ?, seq = ? WHERE id = ?`, string(ev.Phase), j.clock.Next(), run)

	case merge.EventStagingCreated:
		_, err := j.db.ExecContext(ctx, `
			INSERT INTO staging (name, run_id, state, seq) VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET run_id = excluded.run_id, state = excluded.state, seq = excluded.seq`,
			ev.Collection, run, stateCreated, j.clock.Next())
		return err

	case merge.EventStagingDropped:
		return j.setStaging(ctx, stateDropped, ev.Collection)

	case merge.EventSwapPending:
		_, err := j.db.ExecContext(ctx, `
			INSERT INTO swaps (run_id, staged, target, step, seq) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET step = excluded.step, seq = excluded.seq`,
			run, ev.Collection, ev.Plan.Source, string(merge.StepPending), j.clock.Next())
		return err

	case merge.EventFinalizeStep:
		return j.exec(ctx, `UPDATE swaps SET step = ?, seq = ? WHERE run_id = ?`, string(ev.Step), j.clock.Next(), run)

	case merge.EventSwapCompleted:
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `UPDATE swaps SET step = ?, seq = ? WHERE run_id = ?`,
			string(merge.StepCompleted), j.clock.Next(), run); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE staging SET state = ?, seq = ? WHERE name = ?`,
			stateConsumed, j.clock.Next(), ev.Collection); err != nil {
			return err
		}
		// A resumed swap never sees run-finished.
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET status = ?, error = NULL, finished_at = ?, seq = ? WHERE id = ?`,
			statusSucceeded, now, j.clock.Next(), run); err != nil {
			return err
		}
		return tx.Commit()

	case merge.EventRunFinished:
		status, msg := statusSucceeded, sql.NullString{}
		if ev.Err != nil {
			status, msg = statusFailed, sql.NullString{String: ev.Err.Error(), Valid: true}
		}
		return j.exec(ctx, `UPDATE runs SET status = ?, error = ?, finished_at = ?, seq = ? WHERE id = ?`,
			status, msg, now, j.clock.Next(), run)
	}
	return nil
}

func (j *Journal) setStaging(ctx context.Context, state stagingState, name string) error {
	return j.exec(ctx, `UPDATE staging SET state = ?, seq = ? WHERE name = ?`, state, j.clock.Next(), name)
}

func (j *Journal) exec(ctx context.Context, query string, args ...any) error {
	_, err := j.db.ExecContext(ctx, query, args...)
	return err
}

// MarkDropped records that names were dropped outside a run, typically by
// a sweep.
func (j *Journal) MarkDropped(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if err := j.setStaging(ctx, stateDropped, name); err != nil {
			errs = append(errs, fmt.Errorf("mark %s dropped: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
