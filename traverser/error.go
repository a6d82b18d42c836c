package traverser

import (
	"encoding/hex"
	"errors"
	"fmt"

	"probmc/model"
	"probmc/state"
)

var ErrCancelled = errors.New("traverser: The traversal was cancelled")

// An error that aborted the traversal.
//
// Carries the state that was expanded and the last transition that was processed,
// so that the failure can be reproduced with a single worker.
type FatalError struct {
	// InitialSource while the initial states were computed
	Index int
	State []byte
	// The last transition processed before the failure. nil if no transition was processed
	Transition *state.Transition
	// Distinct states and delivered transitions when the traversal was aborted
	States      int
	Transitions int
	Err         error
}

func (fe *FatalError) Error() string {
	out := fmt.Sprintf("traverser: fatal error while expanding state %v [%v]", fe.Index, hex.EncodeToString(fe.State))
	if fe.Index == state.InitialSource {
		out = "traverser: fatal error while computing the initial states"
	}
	if fe.Transition != nil {
		out += fmt.Sprintf(" after transition %v", fe.Transition)
	}
	out += fmt.Sprintf(" (%v states, %v transitions)", fe.States, fe.Transitions)
	return fmt.Sprintf("%v: %v", out, fe.Err)
}

func (fe *FatalError) Unwrap() error {
	return fe.Err
}

// Aggregates the execution faults that occurred during a traversal
type FaultsError struct {
	Faults []*model.ExecutionFault
}

func (fe FaultsError) Error() string {
	return fmt.Sprintf("traverser: The model failed in %v states. \nFault 1: %v", len(fe.Faults), fe.Faults[0])
}

func (fe FaultsError) Unwrap() []error {
	errs := make([]error, len(fe.Faults))
	for i, f := range fe.Faults {
		errs[i] = f
	}
	return errs
}
