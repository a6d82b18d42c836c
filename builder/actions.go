// Package builder contains the transition actions that turn the transitions discovered
// by a traversal into Markov chains and Markov decision processes.
package builder

import (
	"fmt"

	"probmc/state"
)

// Called once for every transition discovered by a traversal.
// Must be safe to call from multiple goroutines.
type TransitionAction interface {
	ProcessTransition(t *state.Transition) error
}

// Called once for every expanded source state with all its transitions.
// Must be safe to call from multiple goroutines, but never concurrently for the same source.
type BatchedTransitionAction interface {
	ProcessBatch(b *state.Batch) error
}

// Called once for every state when it is first discovered.
// Must be safe to call from multiple goroutines.
type StateAction interface {
	ProcessState(index int, vector []byte, labels state.LabelSet) error
}

// Called after the traversal has completed
type Finalizer interface {
	Finalize() error
}

// The actions registered with a traversal.
type Actions struct {
	Transition []TransitionAction
	Batched    []BatchedTransitionAction
	State      []StateAction
	Finalizers []Finalizer
}

// Sort the actions by the interfaces they implement.
// An action implementing several interfaces is registered for all of them.
func NewActions(actions ...any) (Actions, error) {
	a := Actions{}
	for _, action := range actions {
		registered := false
		if ta, ok := action.(TransitionAction); ok {
			a.Transition = append(a.Transition, ta)
			registered = true
		}
		if ba, ok := action.(BatchedTransitionAction); ok {
			a.Batched = append(a.Batched, ba)
			registered = true
		}
		if sa, ok := action.(StateAction); ok {
			a.State = append(a.State, sa)
			registered = true
		}
		if f, ok := action.(Finalizer); ok {
			a.Finalizers = append(a.Finalizers, f)
			registered = true
		}
		if !registered {
			return Actions{}, fmt.Errorf("builder: %T is not an action", action)
		}
	}
	return a, nil
}

func (a Actions) Empty() bool {
	return len(a.Transition) == 0 && len(a.Batched) == 0 && len(a.State) == 0
}
