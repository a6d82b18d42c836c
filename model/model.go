// Package model defines the contract between the traversal engine and the
// executable models it explores.
//
// A model is a stepped system. Loading a state with Deserialize, or starting over
// with Reset, arms one step. The step may expose a sequence of choices that are
// resolved one option at a time until no choice is pending. The resulting state is
// then read back with Serialize.
package model

import (
	"fmt"
	"io"

	"probmc/state"
)

type ExecutableModel interface {
	// The size in bytes of the serialized state. Must not change over the lifetime of the model.
	StateVectorSize() int
	// The names of the state labels the model can evaluate
	Labels() []string

	// Write the current state into dst. Returns ErrChoicePending if the step is not completed.
	Serialize(dst []byte) error
	// Load a state and arm a step starting from it.
	Deserialize(src []byte) error
	// Arm the selection of an initial state.
	Reset() error

	// Returns the choice that has to be resolved before the armed step can continue.
	// Returns false if the step is completed.
	AvailableChoice() (Choice, bool)
	// Resolve the pending choice with the provided option.
	ResolveChoice(option int) error

	// Evaluate the labels in the current state. The result is aligned with Labels().
	EvaluateLabels() ([]bool, error)
}

// Implemented by models that activate faults during a step.
type FaultReporter interface {
	// The faults activated during the last completed step
	ActivatedFaults() state.FaultSet
}

// Creates a new, independent instance of a model.
// Every worker uses its own instance.
// Instances implementing io.Closer are closed when the traversal no longer needs them.
type Factory func() ExecutableModel

// Release the resources held by a model instance, like the session of a remote model.
func Release(m ExecutableModel) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// A point where the next state depends on a nondeterministic or probabilistic selection.
type Choice struct {
	Options int
	// The probability of each option. nil if the choice is nondeterministic.
	Probabilities []float64
}

// Create a nondeterministic choice between n options.
func Nondeterministic(n int) Choice {
	return Choice{Options: n}
}

// Create a probabilistic choice with one option for each provided probability.
func Probabilistic(probabilities ...float64) Choice {
	return Choice{Options: len(probabilities), Probabilities: probabilities}
}

func (c Choice) IsProbabilistic() bool {
	return c.Probabilities != nil
}

// Returns the decision made by selecting option.
func (c Choice) Decide(option int) (state.Decision, error) {
	if option < 0 || option >= c.Options {
		return state.Decision{}, fmt.Errorf("%w: option %v of %v", ErrInvalidOption, option, c.Options)
	}
	if !c.IsProbabilistic() {
		return state.Decision{Option: option, Probability: 1, Nondeterministic: true}, nil
	}
	return state.Decision{Option: option, Probability: c.Probabilities[option]}, nil
}

func (c Choice) String() string {
	if c.IsProbabilistic() {
		return fmt.Sprintf("Probabilistic%v", c.Probabilities)
	}
	return fmt.Sprintf("Nondeterministic(%v)", c.Options)
}
