package checking

import (
	"fmt"
	"strings"

	"probmc/state"
)

// A formula that holds or does not hold in each state of a state space
type StateFormula interface {
	// Returns the truth value of the formula in every state
	Evaluate(space state.StateSpace) ([]bool, error)
	String() string
}

type labelFormula struct {
	name string
}

// Holds in the states where the label of the model holds
func Label(name string) StateFormula {
	return labelFormula{name: name}
}

func (lf labelFormula) Evaluate(space state.StateSpace) ([]bool, error) {
	i, ok := space.LabelIndex(lf.name)
	if !ok {
		return nil, fmt.Errorf("checking: unknown label %q", lf.name)
	}
	return evaluate(space, func(s int) bool { return space.LabelsOf(s).Has(i) }), nil
}

func (lf labelFormula) String() string {
	return lf.name
}

type constFormula bool

// Holds in every state
func True() StateFormula {
	return constFormula(true)
}

func (cf constFormula) Evaluate(space state.StateSpace) ([]bool, error) {
	return evaluate(space, func(int) bool { return bool(cf) }), nil
}

func (cf constFormula) String() string {
	if cf {
		return "true"
	}
	return "false"
}

type failedFormula struct{}

// Holds in the states where the model failed while the state was expanded
func Failed() StateFormula {
	return failedFormula{}
}

func (failedFormula) Evaluate(space state.StateSpace) ([]bool, error) {
	return evaluate(space, space.Failed), nil
}

func (failedFormula) String() string {
	return "failed"
}

type deadlockFormula struct{}

// Holds in the states without outgoing transitions
func Deadlock() StateFormula {
	return deadlockFormula{}
}

func (deadlockFormula) Evaluate(space state.StateSpace) ([]bool, error) {
	return evaluate(space, func(s int) bool { return len(space.SuccessorsOf(s)) == 0 }), nil
}

func (deadlockFormula) String() string {
	return "deadlock"
}

type notFormula struct {
	f StateFormula
}

func Not(f StateFormula) StateFormula {
	return notFormula{f: f}
}

func (nf notFormula) Evaluate(space state.StateSpace) ([]bool, error) {
	values, err := nf.f.Evaluate(space)
	if err != nil {
		return nil, err
	}
	for i := range values {
		values[i] = !values[i]
	}
	return values, nil
}

func (nf notFormula) String() string {
	return "!" + nf.f.String()
}

type junction struct {
	and bool
	fs  []StateFormula
}

// Holds in the states where all formulas hold
func And(fs ...StateFormula) StateFormula {
	return junction{and: true, fs: fs}
}

// Holds in the states where some formula holds
func Or(fs ...StateFormula) StateFormula {
	return junction{and: false, fs: fs}
}

func (j junction) Evaluate(space state.StateSpace) ([]bool, error) {
	out := evaluate(space, func(int) bool { return j.and })
	for _, f := range j.fs {
		values, err := f.Evaluate(space)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if j.and {
				out[i] = out[i] && v
			} else {
				out[i] = out[i] || v
			}
		}
	}
	return out, nil
}

func (j junction) String() string {
	parts := make([]string, len(j.fs))
	for i, f := range j.fs {
		parts[i] = f.String()
	}
	op := " | "
	if j.and {
		op = " & "
	}
	return "(" + strings.Join(parts, op) + ")"
}

func evaluate(space state.StateSpace, holds func(int) bool) []bool {
	out := make([]bool, space.StateCount())
	for i := range out {
		out[i] = holds(i)
	}
	return out
}

// Unbounded is the step bound of path formulas without a bound
const Unbounded = -1

// Left holds until Right holds. Right must hold within Bound steps unless Bound is Unbounded.
type PathFormula struct {
	Left  StateFormula
	Right StateFormula
	Bound int
}

// The formula eventually holds
func Finally(f StateFormula) PathFormula {
	return PathFormula{Left: True(), Right: f, Bound: Unbounded}
}

// The formula holds within n steps
func BoundedFinally(f StateFormula, n int) PathFormula {
	return PathFormula{Left: True(), Right: f, Bound: n}
}

func Until(left, right StateFormula) PathFormula {
	return PathFormula{Left: left, Right: right, Bound: Unbounded}
}

func BoundedUntil(left, right StateFormula, n int) PathFormula {
	return PathFormula{Left: left, Right: right, Bound: n}
}

func (pf PathFormula) Bounded() bool {
	return pf.Bound != Unbounded
}

func (pf PathFormula) String() string {
	bound := ""
	if pf.Bounded() {
		bound = fmt.Sprintf("<=%v", pf.Bound)
	}
	if c, ok := pf.Left.(constFormula); ok && bool(c) {
		return fmt.Sprintf("F%v %v", bound, pf.Right)
	}
	return fmt.Sprintf("%v U%v %v", pf.Left, bound, pf.Right)
}
