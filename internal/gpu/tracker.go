package gpu

import (
	"context"
	"fmt"
	"log/slog"
)

// Tracker records the last declared state of every grid that takes part in
// a pipeline and emits the barrier needed before each operation.
//
// Tracker does not reorder anything: a barrier is recorded into the given
// command list at the point Require is called, so it lands between the
// operations recorded before and after it.
type Tracker struct {
	states   map[Handle]ResourceState
	barriers int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[Handle]ResourceState)}
}

// Register starts tracking h in the given state. Registering a handle twice
// overwrites its state.
func (t *Tracker) Register(h Handle, state ResourceState) {
	t.states[h] = state
}

// Forget stops tracking h.
func (t *Tracker) Forget(h Handle) {
	delete(t.states, h)
}

// State returns the recorded state of h.
func (t *Tracker) State(h Handle) (ResourceState, bool) {
	s, ok := t.states[h]
	return s, ok
}

// Require makes sure h is in target before the next operation recorded into
// cl. It emits a barrier and reports true when the state changes; it is a
// no-op when h is already in target. Require panics for an unregistered
// handle.
func (t *Tracker) Require(cl CommandList, h Handle, target ResourceState) bool {
	cur, ok := t.states[h]
	if !ok {
		panic(fmt.Sprintf("gpu: resource %s is not tracked", h))
	}
	if cur == target {
		return false
	}
	b := Barrier{Resource: h, Before: cur, After: target}
	cl.Barrier(b)
	t.states[h] = target
	t.barriers++
	if l := Logger(); l.Enabled(context.Background(), slog.LevelDebug) {
		l.Debug("gpu: barrier", "list", cl.Label(), "barrier", b.String())
	}
	return true
}

// Barriers returns the number of barriers emitted so far.
func (t *Tracker) Barriers() int { return t.barriers }

// Len returns the number of tracked handles.
func (t *Tracker) Len() int { return len(t.states) }
