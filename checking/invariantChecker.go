package checking

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"text/tabwriter"

	"probmc/state"
)

type invariantResponse struct {
	Result   bool  // True if all invariants hold. False otherwise
	Sequence []int // A shortest sequence of states from an initial state to the violating state. nil if Result is true
	Vectors  [][]byte
	Test     int // The index of the violated invariant. -1 if Result is true
	Formula  string
}

// Generate a response
// Returns two parameters, result, and description.
// Result is true if all invariants hold, false otherwise.
// Description is a formatted string providing a detailed description of the result.
// If result is false the description contain a representation of the sequence of states that lead to the violating state
func (ir invariantResponse) Response() (bool, string) {
	if ir.Result {
		return ir.Result, "All invariants hold"
	}
	var buffer bytes.Buffer
	wrt := tabwriter.NewWriter(&buffer, 4, 4, 1, ' ', 0)
	out := fmt.Sprintf("Invariant broken. Invariant %v: %v. Sequence: \n", ir.Test, ir.Formula)
	for i, index := range ir.Sequence {
		vector := ""
		if ir.Vectors != nil && ir.Vectors[i] != nil {
			vector = hex.EncodeToString(ir.Vectors[i])
		}
		fmt.Fprintf(wrt, "-> %v\t%v\t\n", index, vector)
	}
	wrt.Flush()
	out += buffer.String()
	return ir.Result, out
}

// Export the sequence of state indices leading to the violation
func (ir invariantResponse) Export() []int {
	if ir.Sequence == nil {
		return []int{}
	}
	return append([]int{}, ir.Sequence...)
}

// Checks that state formulas hold in every reachable state
type InvariantChecker struct {
	invariants []StateFormula
	// Used to add the state vectors to counterexamples
	vectors func(index int) ([]byte, bool)
}

func NewInvariantChecker(invariants ...StateFormula) *InvariantChecker {
	return &InvariantChecker{
		invariants: invariants,
	}
}

// Add the vectors returned by fn to counterexamples
func (ic *InvariantChecker) WithVectors(fn func(index int) ([]byte, bool)) *InvariantChecker {
	ic.vectors = fn
	return ic
}

// Search the states breadth first from the initial states.
// Stops at the first state that violates an invariant, so the counterexample is a shortest one.
func (ic *InvariantChecker) Check(space state.StateSpace) (CheckerResponse, error) {
	values := make([][]bool, len(ic.invariants))
	for i, inv := range ic.invariants {
		v, err := inv.Evaluate(space)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	parent := make([]int, space.StateCount())
	visited := make([]bool, space.StateCount())
	queue := []int{}
	for _, s := range space.InitialStates() {
		visited[s] = true
		parent[s] = -1
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if test := ic.checkState(values, s); test >= 0 {
			return ic.counterexample(parent, s, test), nil
		}
		for _, e := range space.SuccessorsOf(s) {
			if !visited[e.Target] {
				visited[e.Target] = true
				parent[e.Target] = s
				queue = append(queue, e.Target)
			}
		}
	}
	return invariantResponse{Result: true, Test: -1}, nil
}

// Returns the index of the first violated invariant or -1 if all hold
func (ic *InvariantChecker) checkState(values [][]bool, s int) int {
	for test, v := range values {
		if !v[s] {
			return test
		}
	}
	return -1
}

func (ic *InvariantChecker) counterexample(parent []int, s int, test int) invariantResponse {
	sequence := []int{}
	for i := s; i >= 0; i = parent[i] {
		sequence = append([]int{i}, sequence...)
	}
	var vectors [][]byte
	if ic.vectors != nil {
		vectors = make([][]byte, len(sequence))
		for i, index := range sequence {
			if v, ok := ic.vectors(index); ok {
				vectors[i] = v
			}
		}
	}
	return invariantResponse{
		Result:   false,
		Sequence: sequence,
		Vectors:  vectors,
		Test:     test,
		Formula:  ic.invariants[test].String(),
	}
}
