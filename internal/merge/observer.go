package merge

import "time"

// Phase names one step of the run protocol.
type Phase string

const (
	PhasePrepare     Phase = "prepare"
	PhaseLookupStage Phase = "lookup-stage"
	PhaseMergeStage  Phase = "merge-stage"
	PhaseFinalize    Phase = "finalize"
)

// Phases lists the phases in execution order.
var Phases = []Phase{PhasePrepare, PhaseLookupStage, PhaseMergeStage, PhaseFinalize}

// EventKind identifies an Event.
type EventKind string

const (
	EventRunStarted     EventKind = "run-started"
	EventPhaseStarted   EventKind = "phase-started"
	EventPhaseFinished  EventKind = "phase-finished"
	EventStagingCreated EventKind = "staging-created"
	EventStagingDropped EventKind = "staging-dropped"
	EventSwapPending    EventKind = "swap-pending"
	EventFinalizeStep   EventKind = "finalize-step"
	EventSwapCompleted  EventKind = "swap-completed"
	EventRunFinished    EventKind = "run-finished"
)

// FinalizeStep records how far FINALIZE got. Each step is durable in the
// store once reported, so an interrupted swap can resume from it.
type FinalizeStep string

const (
	// StepPending: nothing applied yet; source-temp holds aliased fields.
	StepPending FinalizeStep = "pending"

	// StepDefaults: lookup-temp and (in drop mode) source are dropped and
	// defaults are written. Aliases are still in place.
	StepDefaults FinalizeStep = "defaults-applied"

	// StepRenamed: aliases carry their final names; only the collection
	// rename remains.
	StepRenamed FinalizeStep = "fields-renamed"

	// StepCompleted: source-temp has replaced the source.
	StepCompleted FinalizeStep = "completed"
)

// Event reports run progress. Collection is set for staging and swap
// events, Step for swap and finalize-step events, Elapsed for finished
// events, Err for failed ones.
type Event struct {
	Kind       EventKind
	Plan       *Plan
	Phase      Phase
	Step       FinalizeStep
	Collection string
	Elapsed    time.Duration
	Err        error
}

// Observer receives run events. Events of one phase may be delivered from
// concurrent goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans events out in order.
type Observers []Observer

func (os Observers) Observe(e Event) {
	for _, o := range os {
		if o != nil {
			o.Observe(e)
		}
	}
}
