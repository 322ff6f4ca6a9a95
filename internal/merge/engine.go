package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/roach88/docmerge/internal/batch"
	"github.com/roach88/docmerge/internal/docstore"
	"github.com/roach88/docmerge/internal/fault"
	"github.com/roach88/docmerge/internal/keytoken"
	"github.com/roach88/docmerge/internal/logging"
	"github.com/roach88/docmerge/internal/pipeline"
	"github.com/roach88/docmerge/internal/projection"
	"github.com/roach88/docmerge/internal/staging"
)

// SwapMode selects how FINALIZE replaces the source collection.
type SwapMode string

const (
	// SwapDropThenRename drops the source, then renames source-temp over
	// it. A failure between the two leaves the result only under the
	// staging name; the journal records the pending rename for recovery.
	SwapDropThenRename SwapMode = "drop-then-rename"

	// SwapOverwriteRename renames source-temp with dropTarget, replacing
	// the source in one operation.
	SwapOverwriteRename SwapMode = "overwrite-rename"
)

// ParseSwapMode parses a SwapMode; empty selects SwapDropThenRename.
func ParseSwapMode(s string) (SwapMode, error) {
	switch SwapMode(s) {
	case "", SwapDropThenRename:
		return SwapDropThenRename, nil
	case SwapOverwriteRename:
		return SwapOverwriteRename, nil
	}
	return "", fmt.Errorf("unknown swap mode %q (valid: %s, %s)", s, SwapDropThenRename, SwapOverwriteRename)
}

// Result summarizes a completed run.
type Result struct {
	Salt       string                  `json:"salt"`
	Source     string                  `json:"source"`
	Lookup     string                  `json:"lookup"`
	LookupTemp string                  `json:"lookupTemp"`
	SourceTemp string                  `json:"sourceTemp"`
	JoinKeys   int                     `json:"joinKeys"`
	Joins      int                     `json:"joins"`
	Outputs    int                     `json:"outputs"`
	Renamed    int64                   `json:"renamed"`
	Defaulted  int64                   `json:"defaulted"`
	Durations  map[Phase]time.Duration `json:"durations"`
}

func newResult(plan *Plan) *Result {
	return &Result{
		Salt:       plan.Run.Salt,
		Source:     plan.Source,
		Lookup:     plan.Lookup,
		LookupTemp: plan.LookupTemp.Name,
		SourceTemp: plan.SourceTemp.Name,
		JoinKeys:   len(plan.JoinKeys),
		Joins:      len(plan.Joins),
		Outputs:    len(plan.Outputs),
		Durations:  make(map[Phase]time.Duration, len(Phases)),
	}
}

// Engine runs lookup-merges against one store.
//
// Thread-safety: an Engine may be shared, but runs over overlapping
// collections must not overlap in time.
type Engine struct {
	store    docstore.Store
	staging  *staging.Manager
	salts    keytoken.SaltSource
	swap     SwapMode
	observer Observer
	logger   *slog.Logger
	prefix   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSaltSource sets the per-run salt source (default UUIDv7).
func WithSaltSource(src keytoken.SaltSource) Option {
	return func(e *Engine) { e.salts = src }
}

// WithSwapMode sets the FINALIZE swap strategy.
func WithSwapMode(m SwapMode) Option {
	return func(e *Engine) { e.swap = m }
}

// WithObserver sets the run event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStagingPrefix overrides staging.DefaultPrefix.
func WithStagingPrefix(prefix string) Option {
	return func(e *Engine) { e.prefix = prefix }
}

// New creates an Engine over st.
func New(st docstore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		salts:    keytoken.UUIDv7Source{},
		swap:     SwapDropThenRename,
		observer: Observers(nil),
		logger:   logging.Discard(),
		prefix:   staging.DefaultPrefix,
	}
	for _, o := range opts {
		o(e)
	}
	if e.observer == nil {
		e.observer = Observers(nil)
	}
	e.staging = staging.NewManager(st, staging.WithPrefix(e.prefix), staging.WithLogger(e.logger))
	return e
}

// Staging returns the engine's staging manager.
func (e *Engine) Staging() *staging.Manager { return e.staging }

// Run validates req, allocates a run salt and executes all four phases.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rc, err := keytoken.NewRunContext(e.salts)
	if err != nil {
		return nil, fmt.Errorf("allocate run salt: %w", err)
	}
	plan, err := e.Plan(req, rc)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan)
}

// Execute runs a plan.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (_ *Result, err error) {
	res := newResult(plan)
	e.emit(Event{Kind: EventRunStarted, Plan: plan})
	timer := logging.StartTimer(e.logger, "merge", "source", plan.Source, "lookup", plan.Lookup)
	defer func() {
		elapsed := timer.Stop(err)
		e.emit(Event{Kind: EventRunFinished, Plan: plan, Elapsed: elapsed, Err: err})
	}()

	var sourceIndexes []docstore.IndexDef
	err = e.phase(ctx, plan, PhasePrepare, res, func(ctx context.Context) error {
		return batch.Run(ctx,
			func(ctx context.Context) error {
				ixs, err := e.store.ListIndexes(ctx, plan.Source)
				if err != nil {
					return fault.Operation("listIndexes", plan.Source, err)
				}
				sourceIndexes = ixs
				return nil
			},
			func(ctx context.Context) error {
				return e.createStaging(ctx, plan, plan.LookupTemp, plan.JoinKeyIndexes)
			},
		)
	})
	if err != nil {
		return nil, err
	}

	var identity pipeline.FieldSpec
	err = e.phase(ctx, plan, PhaseLookupStage, res, func(ctx context.Context) error {
		return batch.Run(ctx,
			func(ctx context.Context) error {
				return fault.Operation("aggregate", plan.Lookup, e.store.Aggregate(ctx, plan.Lookup, plan.LookupPipeline))
			},
			func(ctx context.Context) error {
				fs, err := projection.IdentityProjection(ctx, e.store, plan.Source, nil, projection.Options{IncludeID: true})
				identity = fs
				return err
			},
			func(ctx context.Context) error {
				return e.createStaging(ctx, plan, plan.SourceTemp, staging.IndexList(sourceIndexes))
			},
		)
	})
	if err != nil {
		return nil, err
	}

	err = e.phase(ctx, plan, PhaseMergeStage, res, func(ctx context.Context) error {
		stages, err := plan.MergePipeline(identity)
		if err != nil {
			return err
		}
		return fault.Operation("aggregate", plan.Source, e.store.Aggregate(ctx, plan.Source, stages))
	})
	if err != nil {
		return nil, err
	}

	err = e.phase(ctx, plan, PhaseFinalize, res, func(ctx context.Context) error {
		return e.finalize(ctx, plan, res, StepPending, false)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) finalize(ctx context.Context, plan *Plan, res *Result, from FinalizeStep, resumed bool) error {
	if from == StepPending {
		e.emit(Event{Kind: EventSwapPending, Plan: plan, Step: StepPending, Collection: plan.SourceTemp.Name})
		if err := e.dropAndDefault(ctx, plan, res); err != nil {
			return err
		}
		e.emit(Event{Kind: EventFinalizeStep, Plan: plan, Step: StepDefaults, Collection: plan.SourceTemp.Name})
		from = StepDefaults
	}

	if from == StepDefaults {
		if err := e.renameFields(ctx, plan, res); err != nil {
			return err
		}
		e.emit(Event{Kind: EventFinalizeStep, Plan: plan, Step: StepRenamed, Collection: plan.SourceTemp.Name})
		from = StepRenamed
	}

	if from != StepRenamed {
		return fault.Validation("cannot finalize from step %q", from)
	}
	dropTarget := plan.Swap == SwapOverwriteRename || resumed
	if err := e.store.RenameCollection(ctx, plan.SourceTemp.Name, plan.Source, dropTarget); err != nil {
		return fault.Operation("rename", plan.SourceTemp.Name, err)
	}
	e.emit(Event{Kind: EventSwapCompleted, Plan: plan, Step: StepCompleted, Collection: plan.SourceTemp.Name})
	return nil
}

// dropAndDefault drops lookup-temp and, in drop mode, the source, and
// writes defaults. Defaults are keyed on the alias being absent, so they
// must land before any alias is renamed away.
func (e *Engine) dropAndDefault(ctx context.Context, plan *Plan, res *Result) error {
	ops := []batch.Op{func(ctx context.Context) error {
		return e.dropStaging(ctx, plan, plan.LookupTemp.Name)
	}}
	if plan.Swap != SwapOverwriteRename {
		ops = append(ops, func(ctx context.Context) error {
			return fault.Operation("drop", plan.Source, e.store.DropCollection(ctx, plan.Source))
		})
	}
	defaulted := make([]int64, len(plan.Outputs))
	for i, o := range plan.Outputs {
		if !o.HasDefault() {
			continue
		}
		ops = append(ops, func(ctx context.Context) error {
			n, err := e.store.UpdateMany(ctx, plan.SourceTemp.Name,
				bson.D{{Key: o.Alias, Value: bson.D{{Key: "$exists", Value: false}}}},
				bson.D{{Key: "$set", Value: bson.D{{Key: o.Target, Value: o.Default}}}},
			)
			defaulted[i] = n
			return fault.Operation("setDefault", plan.SourceTemp.Name, err)
		})
	}
	if err := batch.Run(ctx, ops...); err != nil {
		return err
	}
	for _, n := range defaulted {
		res.Defaulted += n
	}
	return nil
}

// renameFields moves every alias to its output name in one update. $rename
// skips documents lacking the alias, so a repeated call only touches what
// is left.
func (e *Engine) renameFields(ctx context.Context, plan *Plan, res *Result) error {
	if len(plan.Outputs) == 0 {
		return nil
	}
	present := make(bson.A, 0, len(plan.Outputs))
	renames := make(bson.D, 0, len(plan.Outputs))
	for _, o := range plan.Outputs {
		present = append(present, bson.D{{Key: o.Alias, Value: bson.D{{Key: "$exists", Value: true}}}})
		renames = append(renames, bson.E{Key: o.Alias, Value: o.Target})
	}
	n, err := e.store.UpdateMany(ctx, plan.SourceTemp.Name,
		bson.D{{Key: "$or", Value: present}},
		bson.D{{Key: "$rename", Value: renames}},
	)
	if err != nil {
		return fault.Operation("renameFields", plan.SourceTemp.Name, err)
	}
	res.Renamed += n
	return nil
}

// Resume completes an interrupted FINALIZE from the last recorded step.
// The final rename always replaces the target, which may or may not have
// been dropped before the interruption. A source-temp that is already gone
// while the source exists means the swap had completed.
func (e *Engine) Resume(ctx context.Context, plan *Plan, from FinalizeStep) (_ *Result, err error) {
	res := newResult(plan)
	if from == StepCompleted {
		return res, nil
	}
	staged, err := e.store.CollectionExists(ctx, plan.SourceTemp.Name)
	if err != nil {
		return nil, fault.Operation("exists", plan.SourceTemp.Name, err)
	}
	if !staged {
		done, err := e.store.CollectionExists(ctx, plan.Source)
		if err != nil {
			return nil, fault.Operation("exists", plan.Source, err)
		}
		if !done {
			return nil, fault.NotFound(plan.SourceTemp.Name, "staged result is missing; nothing to recover")
		}
		e.emit(Event{Kind: EventSwapCompleted, Plan: plan, Step: StepCompleted, Collection: plan.SourceTemp.Name})
		return res, nil
	}

	timer := logging.StartTimer(e.logger, "resume", "source", plan.Source, "step", string(from))
	defer func() { timer.Stop(err) }()
	if err := e.phase(ctx, plan, PhaseFinalize, res, func(ctx context.Context) error {
		return e.finalize(ctx, plan, res, from, true)
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) phase(ctx context.Context, plan *Plan, p Phase, res *Result, fn func(context.Context) error) error {
	e.emit(Event{Kind: EventPhaseStarted, Plan: plan, Phase: p})
	timer := logging.StartTimer(e.logger, "phase "+string(p), "source", plan.Source)
	err := fn(ctx)
	elapsed := timer.Stop(err)
	res.Durations[p] = elapsed
	e.emit(Event{Kind: EventPhaseFinished, Plan: plan, Phase: p, Elapsed: elapsed, Err: err})
	if err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return nil
}

func (e *Engine) createStaging(ctx context.Context, plan *Plan, h staging.Handle, spec staging.IndexSpec) error {
	if err := e.staging.Ensure(ctx, h.Name, true, spec); err != nil {
		return err
	}
	e.emit(Event{Kind: EventStagingCreated, Plan: plan, Collection: h.Name})
	return nil
}

func (e *Engine) dropStaging(ctx context.Context, plan *Plan, name string) error {
	if err := e.staging.Drop(ctx, name); err != nil {
		return err
	}
	e.emit(Event{Kind: EventStagingDropped, Plan: plan, Collection: name})
	return nil
}

func (e *Engine) emit(ev Event) {
	e.observer.Observe(ev)
}
