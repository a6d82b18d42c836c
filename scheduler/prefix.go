package scheduler

import (
	"errors"
	"fmt"
)

var ErrPrefixMismatch = errors.New("scheduler: The replayed prefix does not match the choices of the model")

type prefix []int

// Enumerates every complete resolution of the choices made while expanding one state.
//
// Maintains a stack of unexplored prefixes.
// When a new run is started it follows the prefix and continues with option 0 of every new choice,
// adding a new prefix for every other option it discovers.
// Options are explored in ascending order, so the enumeration is deterministic.
type Prefixes struct {
	// unexplored prefixes
	pending []prefix

	currentIndex int
	currentRun   prefix
}

func NewPrefixes() *Prefixes {
	return &Prefixes{
		pending:    []prefix{{}},
		currentRun: make(prefix, 0),
	}
}

// Prepare for the next run. Returns false if all runs have been explored.
func (p *Prefixes) StartRun() bool {
	if len(p.pending) == 0 {
		return false
	}
	// Pop the latest prefix
	p.currentRun = p.pending[len(p.pending)-1]
	p.pending = p.pending[:len(p.pending)-1]
	p.currentIndex = 0
	return true
}

// Select an option of a choice with the provided number of options.
func (p *Prefixes) Choose(options int) (int, error) {
	if options <= 0 {
		return 0, fmt.Errorf("scheduler: choice without options at depth %v", p.currentIndex)
	}
	var option int
	if p.currentIndex < len(p.currentRun) {
		// Follow the current prefix
		option = p.currentRun[p.currentIndex]
		if option >= options {
			return 0, fmt.Errorf("%w: option %v of a choice with %v options at depth %v", ErrPrefixMismatch, option, options, p.currentIndex)
		}
	} else {
		// Pushed in reverse so that the lowest option is popped first
		for alt := options - 1; alt > 0; alt-- {
			newRun := make(prefix, len(p.currentRun), len(p.currentRun)+1)
			copy(newRun, p.currentRun)
			p.pending = append(p.pending, append(newRun, alt))
		}
		p.currentRun = append(p.currentRun, 0)
	}
	p.currentIndex++
	return option, nil
}

// The options selected in the current run
func (p *Prefixes) Path() []int {
	return p.currentRun[:p.currentIndex]
}

// Number of unexplored prefixes
func (p *Prefixes) Pending() int {
	return len(p.pending)
}

// Returns true if the whole prefix of the current run has been followed
func (p *Prefixes) Complete() bool {
	return p.currentIndex >= len(p.currentRun)
}
