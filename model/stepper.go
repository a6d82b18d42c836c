package model

import (
	"errors"
	"fmt"

	"probmc/state"
)

// A label evaluated on a serialized state.
type Label struct {
	Name  string
	Holds func(state []byte) bool
}

// A model written as plain Go functions operating on the serialized state.
//
// Initial and Step mutate the state in place and call the Chooser whenever the
// result depends on a choice. Both must be deterministic for a given sequence of
// options returned by the Chooser, since they are re-executed while choices are resolved.
type Program struct {
	StateVectorSize int
	Labels          []Label
	// Writes an initial state into a zeroed state vector
	Initial func(c *Chooser, state []byte) error
	// Performs one step on the state vector
	Step func(c *Chooser, state []byte) error
}

// Returns a Factory creating a new Stepper for the program.
func (p Program) Factory() Factory {
	return func() ExecutableModel {
		return NewStepper(p)
	}
}

// Provides choices to a Program.
//
// Options are replayed from the path resolved so far.
// When the path is exhausted the Chooser interrupts the program and reports the choice as pending.
type Chooser struct {
	path      []int
	pos       int
	activated state.FaultSet
}

type pendingChoice struct {
	choice Choice
}

// Choose nondeterministically between n options.
func (c *Chooser) Choose(n int) int {
	return c.choose(Nondeterministic(n))
}

// Choose one option with the provided probabilities.
func (c *Chooser) ChooseWithProbability(probabilities ...float64) int {
	return c.choose(Probabilistic(probabilities...))
}

// Mark the fault as activated in the current step.
func (c *Chooser) Activate(fault int) {
	c.activated = c.activated.With(fault)
}

// The faults activated so far in the current step
func (c *Chooser) Activated() state.FaultSet {
	return c.activated
}

func (c *Chooser) choose(ch Choice) int {
	if ch.Options <= 0 {
		panic(ErrNoChoices)
	}
	if ch.Options == 1 {
		return 0
	}
	if c.pos < len(c.path) {
		option := c.path[c.pos]
		c.pos++
		if option >= ch.Options {
			panic(fmt.Errorf("%w: replayed option %v of %v", ErrInvalidOption, option, ch.Options))
		}
		return option
	}
	panic(pendingChoice{choice: ch})
}

func (c *Chooser) reset(path []int) {
	c.path = path
	c.pos = 0
	c.activated = 0
}

// Stepper implements ExecutableModel for a Program.
//
// Should only be used from a single goroutine.
type Stepper struct {
	p     Program
	names []string

	origin  []byte
	current []byte
	initial bool

	path       []int
	pending    Choice
	hasPending bool

	chooser Chooser
	faults  state.FaultSet
}

func NewStepper(p Program) *Stepper {
	names := make([]string, len(p.Labels))
	for i, l := range p.Labels {
		names[i] = l.Name
	}
	return &Stepper{
		p:       p,
		names:   names,
		origin:  make([]byte, p.StateVectorSize),
		current: make([]byte, p.StateVectorSize),
	}
}

func (s *Stepper) StateVectorSize() int {
	return s.p.StateVectorSize
}

func (s *Stepper) Labels() []string {
	return s.names
}

func (s *Stepper) Serialize(dst []byte) error {
	if s.hasPending {
		return ErrChoicePending
	}
	if len(dst) != len(s.current) {
		return fmt.Errorf("%w: got %v bytes, expected %v", ErrStateSize, len(dst), len(s.current))
	}
	copy(dst, s.current)
	return nil
}

func (s *Stepper) Deserialize(src []byte) error {
	if len(src) != len(s.origin) {
		return fmt.Errorf("%w: got %v bytes, expected %v", ErrStateSize, len(src), len(s.origin))
	}
	copy(s.origin, src)
	s.initial = false
	return s.arm()
}

func (s *Stepper) Reset() error {
	clear(s.origin)
	s.initial = true
	return s.arm()
}

func (s *Stepper) AvailableChoice() (Choice, bool) {
	return s.pending, s.hasPending
}

func (s *Stepper) ResolveChoice(option int) error {
	if !s.hasPending {
		return ErrNoPendingChoice
	}
	if option < 0 || option >= s.pending.Options {
		return fmt.Errorf("%w: option %v of %v", ErrInvalidOption, option, s.pending.Options)
	}
	s.path = append(s.path, option)
	return s.run()
}

func (s *Stepper) EvaluateLabels() ([]bool, error) {
	if s.hasPending {
		return nil, ErrChoicePending
	}
	out := make([]bool, len(s.p.Labels))
	for i, l := range s.p.Labels {
		out[i] = l.Holds(s.current)
	}
	return out, nil
}

func (s *Stepper) ActivatedFaults() state.FaultSet {
	return s.faults
}

func (s *Stepper) arm() error {
	s.path = s.path[:0]
	return s.run()
}

// Execute the step from the origin, replaying the resolved path.
func (s *Stepper) run() (err error) {
	copy(s.current, s.origin)
	s.chooser.reset(s.path)
	s.hasPending = false

	fn := s.p.Step
	if s.initial {
		fn = s.p.Initial
	}

	defer func() {
		if r := recover(); r != nil {
			pc, ok := r.(pendingChoice)
			if !ok {
				// Misuse of the Chooser is reported as an error, other panics belong to the program
				if e, isErr := r.(error); isErr && (errors.Is(e, ErrInvalidOption) || errors.Is(e, ErrNoChoices)) {
					s.hasPending = false
					err = e
					return
				}
				panic(r)
			}
			s.pending = pc.choice
			s.hasPending = true
			err = nil
		}
	}()

	if fn != nil {
		if err := fn(&s.chooser, s.current); err != nil {
			return err
		}
	}
	s.faults = s.chooser.activated
	return nil
}
