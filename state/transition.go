package state

import (
	"fmt"
	"strings"
)

// The source index used for the batch that carries the initial states of a traversal.
const InitialSource = -1

// A single resolved option of a choice offered by the model.
type Decision struct {
	Option int
	// The probability of the option. Always 1 for nondeterministic options.
	Probability float64
	// True if the option was selected from a nondeterministic choice.
	Nondeterministic bool
}

func (d Decision) String() string {
	if d.Nondeterministic {
		return fmt.Sprintf("nd:%v", d.Option)
	}
	return fmt.Sprintf("p:%v@%v", d.Option, d.Probability)
}

// A transition discovered while expanding the Source state.
//
// Transitions are handed to the transition actions and must not be modified by them.
type Transition struct {
	// Index of the source state. InitialSource for initial transitions.
	Source int
	// Index of the target state assigned by the state storage
	Target int
	// The serialized target state.
	// The slice is only valid while the transition is being processed.
	State []byte
	// The product of the probabilities of all probabilistic decisions on Path
	Probability float64
	// The formula labels that hold in the target state
	Labels LabelSet
	// The faults that were activated while taking the transition
	Faults FaultSet
	// The decisions that were made to reach the target
	Path []Decision
}

func (t Transition) String() string {
	path := make([]string, len(t.Path))
	for i, d := range t.Path {
		path[i] = d.String()
	}
	return fmt.Sprintf("{%v -> %v p=%v labels=%v faults=%v path=[%v]}", t.Source, t.Target, t.Probability, t.Labels, t.Faults, strings.Join(path, " "))
}

// All transitions that were discovered by expanding a single source state.
type Batch struct {
	Source      int
	SourceState []byte
	Transitions []Transition
	// True if the model failed while the source was expanded.
	// A failed batch carries no transitions.
	Failed bool
}

// An outgoing edge of a state in a built chain or decision process.
type Entry struct {
	Target      int
	Probability float64
}
