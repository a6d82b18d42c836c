package checking

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"probmc/state"
)

var ErrNotConverged = errors.New("checking: value iteration did not converge")

// The probability of a path formula
type Probability struct {
	// The probability from the initial states
	Value float64
	// The probability from each state
	States     []float64
	Iterations int
}

// Returns true if the probability is within eps of v
func (p Probability) Is(v, eps float64) bool {
	return math.Abs(p.Value-v) <= eps
}

func (p Probability) String() string {
	return fmt.Sprintf("%v (%v iterations)", p.Value, p.Iterations)
}

// The expected number of steps until a set of states is reached
type Expectation struct {
	Value      float64
	States     []float64
	Iterations int
}

type objective int

const (
	minimize objective = iota
	maximize
)

// Computes probabilities on frozen Markov chains and MDPs by value iteration.
// The state spaces are never modified.
type Solver struct {
	// Iteration stops when no value changes by more than Tolerance
	Tolerance     float64
	MaxIterations int
	// Fix the states with probability 1 found by the graph analysis before iterating.
	// States with probability 0 are always fixed.
	EarlyTermination bool
	// Defaults to slog.Default()
	Logger *slog.Logger
}

func DefaultSolver() *Solver {
	return &Solver{
		Tolerance:        1e-6,
		MaxIterations:    100000,
		EarlyTermination: true,
	}
}

func (s *Solver) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// The probability of the formula in a Markov chain
func (s *Solver) CalculateProbability(mc *state.MarkovChain, f PathFormula) (Probability, error) {
	return s.solve(chainSystem(mc), mc, f, maximize, func(phi, psi []bool) ([]bool, []bool) {
		return Prob0(mc, phi, psi), Prob1(mc, phi, psi)
	})
}

// The minimal probability of the formula over all schedulers of the MDP
func (s *Solver) CalculateMinimalProbability(m *state.MDP, f PathFormula) (Probability, error) {
	return s.solve(mdpSystem(m), m, f, minimize, func(phi, psi []bool) ([]bool, []bool) {
		return Prob0A(m, phi, psi), Prob1A(m, phi, psi)
	})
}

// The maximal probability of the formula over all schedulers of the MDP
func (s *Solver) CalculateMaximalProbability(m *state.MDP, f PathFormula) (Probability, error) {
	return s.solve(mdpSystem(m), m, f, maximize, func(phi, psi []bool) ([]bool, []bool) {
		return Prob0E(m, phi, psi), Prob1E(m, phi, psi)
	})
}

func (s *Solver) solve(sys system, space state.StateSpace, f PathFormula, obj objective, qualitative func(phi, psi []bool) ([]bool, []bool)) (Probability, error) {
	if f.Left == nil || f.Right == nil {
		return Probability{}, errors.New("checking: incomplete path formula")
	}
	if f.Bound < Unbounded {
		return Probability{}, fmt.Errorf("checking: invalid step bound %v", f.Bound)
	}
	phi, err := f.Left.Evaluate(space)
	if err != nil {
		return Probability{}, err
	}
	psi, err := f.Right.Evaluate(space)
	if err != nil {
		return Probability{}, err
	}

	x := make([]float64, sys.n)
	fixed := make([]bool, sys.n)
	for i := range x {
		switch {
		case psi[i]:
			x[i], fixed[i] = 1, true
		case !phi[i]:
			fixed[i] = true
		}
	}

	var iterations int
	if f.Bounded() {
		// One iteration per step, without convergence check
		for iterations = 0; iterations < f.Bound; iterations++ {
			x = s.iterate(sys, x, fixed, obj)
		}
	} else {
		zero, one := qualitative(phi, psi)
		for i := range x {
			if zero[i] {
				x[i], fixed[i] = 0, true
			} else if one[i] && s.EarlyTermination {
				x[i], fixed[i] = 1, true
			}
		}
		x, iterations, err = s.converge(sys, x, fixed, obj)
		if err != nil {
			return Probability{States: x, Iterations: iterations, Value: initialValue(sys, x, obj)}, err
		}
	}

	p := Probability{States: x, Iterations: iterations, Value: initialValue(sys, x, obj)}
	s.logger().Debug("Computed probability", "formula", f, "value", p.Value, "iterations", iterations)
	return p, nil
}

// Iterate until the maximal change of a value is below the tolerance
func (s *Solver) converge(sys system, x []float64, fixed []bool, obj objective) ([]float64, int, error) {
	for iterations := 1; ; iterations++ {
		next := s.iterate(sys, x, fixed, obj)
		delta := 0.0
		for i := range next {
			delta = math.Max(delta, math.Abs(next[i]-x[i]))
		}
		x = next
		if delta < s.Tolerance {
			return x, iterations, nil
		}
		if iterations >= s.MaxIterations {
			return x, iterations, fmt.Errorf("%w after %v iterations (delta %v)", ErrNotConverged, iterations, delta)
		}
	}
}

// A single step of value iteration
func (s *Solver) iterate(sys system, x []float64, fixed []bool, obj objective) []float64 {
	next := make([]float64, len(x))
	for i := range x {
		if fixed[i] {
			next[i] = x[i]
			continue
		}
		next[i] = optimum(sys.choices(i), x, obj)
	}
	return next
}

// The optimal expected value over the groups. 0 if there are no groups
func optimum(groups [][]state.Entry, x []float64, obj objective) float64 {
	if len(groups) == 0 {
		return 0
	}
	best := math.Inf(1)
	if obj == maximize {
		best = math.Inf(-1)
	}
	for _, g := range groups {
		v := 0.0
		for _, e := range g {
			v += e.Probability * x[e.Target]
		}
		if obj == maximize {
			best = math.Max(best, v)
		} else {
			best = math.Min(best, v)
		}
	}
	return best
}

func initialValue(sys system, x []float64, obj objective) float64 {
	return optimum(sys.initial, x, obj)
}

// The expected number of steps until a state satisfying target is reached.
// The expectation is infinite in states that reach the target with a probability below 1.
func (s *Solver) CalculateExpectedSteps(mc *state.MarkovChain, target StateFormula) (Expectation, error) {
	psi, err := target.Evaluate(mc)
	if err != nil {
		return Expectation{}, err
	}
	all := make([]bool, mc.StateCount())
	for i := range all {
		all[i] = true
	}
	reach := Prob1(mc, all, psi)

	x := make([]float64, mc.StateCount())
	for i := range x {
		if !reach[i] {
			x[i] = math.Inf(1)
		}
	}
	for iterations := 1; ; iterations++ {
		delta := 0.0
		next := make([]float64, len(x))
		for i := range x {
			if psi[i] || !reach[i] {
				next[i] = x[i]
				continue
			}
			v := 1.0
			for _, e := range mc.SuccessorsOf(i) {
				v += e.Probability * x[e.Target]
			}
			next[i] = v
			delta = math.Max(delta, math.Abs(v-x[i]))
		}
		x = next

		value := 0.0
		for _, e := range mc.InitialDistribution() {
			value += e.Probability * x[e.Target]
		}
		result := Expectation{Value: value, States: x, Iterations: iterations}
		if delta < s.Tolerance {
			return result, nil
		}
		if iterations >= s.MaxIterations {
			return result, fmt.Errorf("%w after %v iterations (delta %v)", ErrNotConverged, iterations, delta)
		}
	}
}
