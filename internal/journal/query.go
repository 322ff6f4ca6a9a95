package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/docmerge/internal/merge"
)

// PendingSwap is a run whose FINALIZE started but did not complete.
type PendingSwap struct {
	RunID  string
	Staged string
	Target string
	Step   merge.FinalizeStep
	Plan   *merge.Plan
}

// PendingSwaps lists unfinished swaps, oldest first.
func (j *Journal) PendingSwaps(ctx context.Context) ([]PendingSwap, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.run_id, s.staged, s.target, s.step, r.plan
		FROM swaps s JOIN runs r ON r.id = s.run_id
		WHERE s.step <> ?
		ORDER BY s.seq`, string(merge.StepCompleted))
	if err != nil {
		return nil, fmt.Errorf("query pending swaps: %w", err)
	}
	defer rows.Close()

	var out []PendingSwap
	for rows.Next() {
		var ps PendingSwap
		var step, plan string
		if err := rows.Scan(&ps.RunID, &ps.Staged, &ps.Target, &step, &plan); err != nil {
			return nil, fmt.Errorf("scan pending swap: %w", err)
		}
		ps.Step = merge.FinalizeStep(step)
		if ps.Plan, err = decodePlan(plan); err != nil {
			return nil, fmt.Errorf("run %s: %w", ps.RunID, err)
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

// Orphans lists staging collections that were created and never dropped
// or consumed, whose run has ended or started more than staleAfter ago.
// Collections staged for a pending swap are excluded; they hold the only
// copy of the merged data. A non-positive staleAfter treats every running
// run as live.
func (j *Journal) Orphans(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	cutoff := int64(-1)
	if staleAfter > 0 {
		cutoff = j.now().Add(-staleAfter).UnixNano()
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT st.name
		FROM staging st JOIN runs r ON r.id = st.run_id
		WHERE st.state = ?
		  AND (r.status <> ? OR r.started_at < ?)
		  AND st.name NOT IN (SELECT staged FROM swaps WHERE step <> ?)
		ORDER BY st.name`,
		stateCreated, statusRunning, cutoff, string(merge.StepCompleted))
	if err != nil {
		return nil, fmt.Errorf("query orphans: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Protected lists staged collections of pending swaps.
func (j *Journal) Protected(ctx context.Context) (map[string]bool, error) {
	swaps, err := j.PendingSwaps(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(swaps))
	for _, s := range swaps {
		out[s.Staged] = true
	}
	return out, nil
}

// Run is one journal row.
type Run struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Lookup     string     `json:"lookup"`
	Swap       string     `json:"swap"`
	Status     string     `json:"status"`
	Phase      string     `json:"phase,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Runs lists the most recent runs, newest first. limit <= 0 lists all.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, source, lookup, swap_mode, status, phase, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var phase, msg sql.NullString
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Source, &r.Lookup, &r.Swap, &r.Status, &phase, &msg, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Phase, r.Error = phase.String, msg.String
		r.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
