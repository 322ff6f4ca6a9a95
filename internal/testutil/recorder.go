package testutil

import (
	"sync"

	"github.com/roach88/docmerge/internal/merge"
)

// Recorder is a merge.Observer that keeps every event.
//
// Thread-safety: Recorder is safe for concurrent use; events delivered
// concurrently are kept in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []merge.Event
}

// Observe implements merge.Observer.
func (r *Recorder) Observe(e merge.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []merge.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]merge.Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events.
func (r *Recorder) Kinds() []merge.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]merge.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Steps returns the finalize steps reported, in order.
func (r *Recorder) Steps() []merge.FinalizeStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []merge.FinalizeStep
	for _, e := range r.events {
		if e.Step != "" {
			out = append(out, e.Step)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
