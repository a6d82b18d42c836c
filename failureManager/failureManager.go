// Package failureManager activates faults while a model takes a step and selects
// the fault effects that override the nominal behavior of the model.
package failureManager

import (
	"errors"
	"fmt"

	"probmc/model"
	"probmc/state"
)

// A fault that may be activated in every step.
type Fault struct {
	Name string
	// The probability of activating the fault in a step.
	// 0 means that the activation is a nondeterministic choice.
	Probability float64
}

// A fault effect. Overrides a named behavior of the model while its fault is active.
type Overlay struct {
	Name string
	// Index of the fault in the FailureManager
	Fault    int
	Behavior string
	// The overlay with the highest priority is selected if several faults overriding the same behavior are active
	Priority int
}

// Manages the faults of a model and the overlays of their effects.
//
// Is read only after it has been created and can be shared between workers.
type FailureManager struct {
	faults   []Fault
	overlays map[string][]Overlay
}

// Create a new FailureManager
//
// faults are indexed by their position and can be referenced by the overlays.
func New(faults []Fault, overlays ...Overlay) (*FailureManager, error) {
	if len(faults) > state.MaxLabels {
		return nil, fmt.Errorf("failureManager: %v faults exceed the maximum of %v", len(faults), state.MaxLabels)
	}
	for _, f := range faults {
		if f.Probability < 0 || f.Probability > 1 {
			return nil, fmt.Errorf("failureManager: fault %v has invalid probability %v", f.Name, f.Probability)
		}
	}
	fm := &FailureManager{
		faults:   faults,
		overlays: make(map[string][]Overlay),
	}
	for _, o := range overlays {
		if o.Fault < 0 || o.Fault >= len(faults) {
			return nil, fmt.Errorf("failureManager: overlay %v references unknown fault %v", o.Name, o.Fault)
		}
		if o.Behavior == "" {
			return nil, errors.New("failureManager: overlay " + o.Name + " does not name a behavior")
		}
		fm.overlays[o.Behavior] = append(fm.overlays[o.Behavior], o)
	}
	return fm, nil
}

func (fm *FailureManager) Faults() []Fault {
	return append([]Fault{}, fm.faults...)
}

// Decide for every fault whether it is activated in the current step.
// The activated faults are recorded on the Chooser and reported with the transition.
//
// Faults with a probability of 1 are always activated and faults with probability 0 choose nondeterministically.
func (fm *FailureManager) Activate(c *model.Chooser) state.FaultSet {
	var active state.FaultSet
	for i, f := range fm.faults {
		activated := false
		switch f.Probability {
		case 0:
			activated = c.Choose(2) == 1
		case 1:
			activated = true
		default:
			activated = c.ChooseWithProbability(1-f.Probability, f.Probability) == 1
		}
		if activated {
			active = active.With(i)
			c.Activate(i)
		}
	}
	return active
}

// Returns the overlay that overrides the behavior given the active faults.
// Returns false if no overlay of an active fault overrides the behavior, in which case the nominal behavior applies.
func (fm *FailureManager) Dispatch(behavior string, active state.FaultSet) (Overlay, bool) {
	var selected Overlay
	found := false
	for _, o := range fm.overlays[behavior] {
		if !active.Has(o.Fault) {
			continue
		}
		// Ties are broken by the order of registration
		if !found || o.Priority > selected.Priority {
			selected = o
			found = true
		}
	}
	return selected, found
}

// The names of the faults in the set
func (fm *FailureManager) Names(set state.FaultSet) []string {
	names := []string{}
	for i, f := range fm.faults {
		if set.Has(i) {
			names = append(names, f.Name)
		}
	}
	return names
}
