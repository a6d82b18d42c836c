package traverser

import (
	"errors"
	"fmt"
	"runtime/debug"

	"probmc/model"
	"probmc/scheduler"
	"probmc/state"
)

// Upper bound on the number of choices resolved in a single step
const MaxChoiceDepth = 1 << 12

var errChoiceDepth = fmt.Errorf("traverser: more than %v choices in a single step", MaxChoiceDepth)

// A complete resolution of the choices of one step
type leaf struct {
	vector []byte
	labels state.LabelSet
	faults state.FaultSet
	path   []state.Decision
}

// Expands states using its own instance of the model.
// Should only be used from a single goroutine.
type worker struct {
	id int
	t  *Traverser
	m  model.ExecutableModel

	// Maps the labels of the model to the label positions of the traversal
	labelMap []int
}

func newWorker(id int, t *Traverser) (*worker, error) {
	m := t.cfg.Factory()
	if m == nil {
		return nil, errors.New("traverser: the model factory returned nil")
	}
	if m.StateVectorSize() != t.vectorSize {
		release(m, t.logger)
		return nil, fmt.Errorf("traverser: model instances disagree on the state vector size: %v and %v", m.StateVectorSize(), t.vectorSize)
	}
	labelMap := make([]int, len(m.Labels()))
	for i, name := range m.Labels() {
		labelMap[i] = t.labelIndex[name]
	}
	return &worker{id: id, t: t, m: m, labelMap: labelMap}, nil
}

// Expand states until the frontier is exhausted or cancelled.
// Returns nil if all states have been expanded.
func (w *worker) run() error {
	for {
		item, err := w.t.frontier.Pop()
		if errors.Is(err, scheduler.NoWorkError) {
			return nil
		}
		if err != nil {
			return err
		}
		err = w.expand(item)
		w.t.frontier.Done()
		if err != nil {
			return err
		}
	}
}

// Expand a single state and hand its transitions to the actions
func (w *worker) expand(item scheduler.Item) error {
	batch := &state.Batch{Source: item.Index, SourceState: item.State}

	leaves, err := w.enumerate(item.Index, item.State)
	if err != nil {
		var fault *model.ExecutionFault
		if !errors.As(err, &fault) {
			return &FatalError{Index: item.Index, State: item.State, Err: err}
		}
		w.t.recordFault(fault)
		batch.Failed = true
		return w.deliver(batch, nil)
	}

	newItems, err := w.process(batch, leaves)
	if err != nil {
		return err
	}
	w.t.frontier.Push(newItems...)
	return nil
}

// Insert the targets into the storage and run the actions.
// Returns the newly discovered states.
func (w *worker) process(batch *state.Batch, leaves []leaf) ([]scheduler.Item, error) {
	newItems := []scheduler.Item{}
	batch.Transitions = make([]state.Transition, 0, len(leaves))
	var last *state.Transition

	fatal := func(err error) error {
		return &FatalError{Index: batch.Source, State: batch.SourceState, Transition: last, Err: err}
	}

	for _, l := range leaves {
		index, isNew, err := w.t.cfg.Storage.LookupOrInsert(l.vector)
		if err != nil {
			return nil, fatal(err)
		}
		probability := 1.0
		for _, d := range l.path {
			probability *= d.Probability
		}
		tr := state.Transition{
			Source:      batch.Source,
			Target:      index,
			State:       l.vector,
			Probability: probability,
			Labels:      l.labels,
			Faults:      l.faults,
			Path:        l.path,
		}
		if isNew {
			w.t.addState()
			for _, sa := range w.t.cfg.Actions.State {
				if err := sa.ProcessState(index, l.vector, l.labels); err != nil {
					return nil, fatal(err)
				}
			}
			newItems = append(newItems, scheduler.Item{Index: index, State: l.vector})
		}
		for _, ta := range w.t.cfg.Actions.Transition {
			if err := ta.ProcessTransition(&tr); err != nil {
				return nil, fatal(err)
			}
		}
		batch.Transitions = append(batch.Transitions, tr)
		last = &batch.Transitions[len(batch.Transitions)-1]
	}

	if err := w.deliver(batch, last); err != nil {
		return nil, err
	}
	w.t.addTransitions(len(batch.Transitions))
	return newItems, nil
}

func (w *worker) deliver(batch *state.Batch, last *state.Transition) error {
	for _, ba := range w.t.cfg.Actions.Batched {
		if err := ba.ProcessBatch(batch); err != nil {
			return &FatalError{Index: batch.Source, State: batch.SourceState, Transition: last, Err: err}
		}
	}
	return nil
}

// Enumerate every resolution of the choices of the step starting in source.
// A nil source enumerates the initial states.
//
// Errors and panics of the model are returned as a *model.ExecutionFault.
func (w *worker) enumerate(index int, source []byte) (leaves []leaf, err error) {
	prefixes := scheduler.NewPrefixes()

	fault := func(err error, stack []byte) error {
		path := append([]int{}, prefixes.Path()...)
		return &model.ExecutionFault{Index: index, State: source, Path: path, Err: err, Stack: stack}
	}

	// Catch all panics that occur while executing the model. These are caused by faults in the model and are therefore attributed to the state.
	defer func() {
		if p := recover(); p != nil {
			leaves = nil
			err = fault(fmt.Errorf("model panicked: %v", p), debug.Stack())
		}
	}()

	for prefixes.StartRun() {
		if source == nil {
			err = w.m.Reset()
		} else {
			err = w.m.Deserialize(source)
		}
		if err != nil {
			return nil, fault(err, nil)
		}

		path := []state.Decision{}
		for {
			choice, ok := w.m.AvailableChoice()
			if !ok {
				break
			}
			if len(path) >= MaxChoiceDepth {
				return nil, fault(errChoiceDepth, nil)
			}
			option, err := prefixes.Choose(choice.Options)
			if err != nil {
				return nil, fault(err, nil)
			}
			d, err := choice.Decide(option)
			if err != nil {
				return nil, fault(err, nil)
			}
			path = append(path, d)
			if err := w.m.ResolveChoice(option); err != nil {
				return nil, fault(err, nil)
			}
		}
		if !prefixes.Complete() {
			return nil, fault(fmt.Errorf("%w: the step completed before the prefix was replayed", scheduler.ErrPrefixMismatch), nil)
		}

		l, err := w.complete(path)
		if err != nil {
			return nil, fault(err, nil)
		}
		leaves = append(leaves, l)
	}
	return leaves, nil
}

// Read back the state reached by a completed step
func (w *worker) complete(path []state.Decision) (leaf, error) {
	vector := make([]byte, w.t.vectorSize)
	if err := w.m.Serialize(vector); err != nil {
		return leaf{}, err
	}
	values, err := w.m.EvaluateLabels()
	if err != nil {
		return leaf{}, err
	}
	if len(values) != len(w.labelMap) {
		return leaf{}, fmt.Errorf("model evaluated %v labels, expected %v", len(values), len(w.labelMap))
	}
	var labels state.LabelSet
	for i, holds := range values {
		if holds {
			labels = labels.With(w.labelMap[i])
		}
	}
	var faults state.FaultSet
	if fr, ok := w.m.(model.FaultReporter); ok {
		faults = fr.ActivatedFaults()
	}
	return leaf{vector: vector, labels: labels, faults: faults, path: path}, nil
}
