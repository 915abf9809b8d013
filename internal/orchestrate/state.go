// Package orchestrate drives the render cycle of a section view: it owns
// pagination and filter state, runs the listing and count fetches
// concurrently, and publishes settle events. Every mutation bumps a
// generation counter; results of superseded loads are dropped before they
// can touch view state.
package orchestrate

import (
	"errors"
	"sync"

	"github.com/tabwise/datadeck/model"
)

// State is the lifecycle phase of a view.
type State int

const (
	// StateIdle means no load has been issued yet.
	StateIdle State = iota
	// StateLoading means a load is in flight.
	StateLoading
	// StateReady means the last load settled successfully.
	StateReady
	// StateErrored means the last initial load failed and the view shows
	// an error instead of rows.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrSuperseded is returned when a load finished after a newer mutation
// claimed the view. Its results were discarded and no event was emitted.
var ErrSuperseded = errors.New("orchestrate: load superseded by a newer mutation")

// ErrLoadInFlight is returned when an append is requested while another
// load is still running.
var ErrLoadInFlight = errors.New("orchestrate: a load is already in flight")

// Emitter publishes orchestrator events to subscribed renderers. Emission
// order follows settle order; subscribers must not block.
type Emitter struct {
	mu   sync.Mutex
	subs []func(model.Event)
}

// Subscribe registers a callback for every future event.
func (e *Emitter) Subscribe(fn func(model.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *Emitter) emit(ev model.Event) {
	e.mu.Lock()
	subs := make([]func(model.Event), len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
