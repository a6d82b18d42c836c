package builder

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"probmc/state"
	"probmc/tree"

	"golang.org/x/exp/slices"
)

// Upper bound on the number of choice groups of a single state
const MaxChoiceGroups = 1 << 16

// Collects the choice groups of every state.
// Shared by the Markov chain and the MDP builder.
//
// Is safe to call from multiple goroutines.
type graph struct {
	sync.Mutex

	labelNames []string
	tolerance  float64
	logger     *slog.Logger

	// Only a single group is allowed per state
	deterministic bool

	initial    [][]state.Entry
	hasInitial bool

	groups   [][][]state.Entry
	labels   []state.LabelSet
	known    []bool
	expanded []bool
	failed   []bool

	unnormalized []UnnormalizedState
	finalized    bool
}

func newGraph(labelNames []string, tolerance float64, logger *slog.Logger, deterministic bool) *graph {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &graph{
		labelNames:    slices.Clone(labelNames),
		tolerance:     tolerance,
		logger:        logger,
		deterministic: deterministic,
	}
}

// Grow the per state slices so that index is valid
func (g *graph) ensure(index int) {
	for len(g.groups) <= index {
		g.groups = append(g.groups, nil)
		g.labels = append(g.labels, 0)
		g.known = append(g.known, false)
		g.expanded = append(g.expanded, false)
		g.failed = append(g.failed, false)
	}
}

// Record the labels of a newly discovered state
func (g *graph) ProcessState(index int, vector []byte, labels state.LabelSet) error {
	g.Lock()
	defer g.Unlock()

	if g.finalized {
		return &ConsistencyViolation{Source: index, Target: -1, Reason: "state discovered after the structure was finalized"}
	}
	g.ensure(index)
	if g.known[index] {
		return &ConsistencyViolation{Source: index, Target: -1, State: vector, Reason: "state discovered twice"}
	}
	g.known[index] = true
	g.labels[index] = labels
	return nil
}

// Add all transitions of an expanded state
func (g *graph) ProcessBatch(b *state.Batch) error {
	groups, err := g.groupsOf(b)
	if err != nil {
		return err
	}

	g.Lock()
	defer g.Unlock()

	if g.finalized {
		return &ConsistencyViolation{Source: b.Source, Target: -1, Reason: "batch delivered after the structure was finalized"}
	}
	if b.Source == state.InitialSource {
		if g.hasInitial {
			return &ConsistencyViolation{Source: b.Source, Target: -1, Reason: "initial states delivered twice"}
		}
		if b.Failed {
			return &ConsistencyViolation{Source: b.Source, Target: -1, Reason: "the initial states could not be computed"}
		}
		g.hasInitial = true
		g.initial = groups
	} else {
		g.ensure(b.Source)
		if g.expanded[b.Source] {
			return &ConsistencyViolation{Source: b.Source, Target: -1, State: b.SourceState, Reason: "source delivered twice"}
		}
		g.expanded[b.Source] = true
		g.failed[b.Source] = b.Failed
		g.groups[b.Source] = groups
	}
	g.checkNormalized(b.Source, groups)
	return nil
}

// Flatten the decisions of the batch into choice groups
func (g *graph) groupsOf(b *state.Batch) ([][]state.Entry, error) {
	if b.Failed {
		if len(b.Transitions) > 0 {
			return nil, &ConsistencyViolation{Source: b.Source, Target: -1, State: b.SourceState, Reason: "failed batch with transitions"}
		}
		return nil, nil
	}
	t := tree.New()
	for i := range b.Transitions {
		tr := &b.Transitions[i]
		if g.deterministic && b.Source != state.InitialSource {
			for _, d := range tr.Path {
				if d.Nondeterministic {
					return nil, &ConsistencyViolation{Source: b.Source, Target: tr.Target, State: tr.State, Reason: "nondeterministic choice in a Markov chain"}
				}
			}
		}
		if err := t.Insert(tr.Path, tr.Target); err != nil {
			g.logger.Debug("Inconsistent choice tree", "state", b.Source, "tree", t.Newick(), "path", tr.Path)
			return nil, &ConsistencyViolation{Source: b.Source, Target: tr.Target, State: tr.State, Reason: err.Error()}
		}
	}
	groups, err := t.Groups(MaxChoiceGroups)
	if err != nil {
		g.logger.Debug("Choice tree could not be flattened", "state", b.Source, "tree", t.Newick())
		return nil, &ConsistencyViolation{Source: b.Source, Target: -1, State: b.SourceState, Reason: err.Error()}
	}
	if g.deterministic && len(groups) > 1 {
		groups = [][]state.Entry{uniform(groups)}
	}
	return groups, nil
}

// Combine the groups into a single distribution that selects every group with the same probability.
// Used for nondeterministic initial states of a Markov chain.
func uniform(groups [][]state.Entry) []state.Entry {
	weight := 1 / float64(len(groups))
	sum := map[int]float64{}
	for _, group := range groups {
		for _, e := range group {
			sum[e.Target] += e.Probability * weight
		}
	}
	out := make([]state.Entry, 0, len(sum))
	for target, p := range sum {
		out = append(out, state.Entry{Target: target, Probability: p})
	}
	slices.SortFunc(out, func(a, b state.Entry) bool { return a.Target < b.Target })
	return out
}

func (g *graph) checkNormalized(source int, groups [][]state.Entry) {
	for c, group := range groups {
		sum := 0.0
		for _, e := range group {
			sum += e.Probability
		}
		if math.Abs(sum-1) > g.tolerance {
			us := UnnormalizedState{Index: source, Choice: c, Sum: sum}
			g.unnormalized = append(g.unnormalized, us)
			g.logger.Warn("Unnormalized state", "state", source, "choice", c, "sum", sum)
		}
	}
}

// Check that every referenced state is known and every known state has been expanded
func (g *graph) finalize() error {
	g.Lock()
	defer g.Unlock()

	if g.finalized {
		return nil
	}
	if !g.hasInitial {
		return &ConsistencyViolation{Source: state.InitialSource, Target: -1, Reason: "no initial states"}
	}
	check := func(source int, groups [][]state.Entry) error {
		for _, group := range groups {
			for _, e := range group {
				if e.Target < 0 || e.Target >= len(g.known) || !g.known[e.Target] {
					return &ConsistencyViolation{Source: source, Target: e.Target, Reason: "transition to an unknown state"}
				}
			}
		}
		return nil
	}
	if err := check(state.InitialSource, g.initial); err != nil {
		return err
	}
	for i := range g.groups {
		if !g.known[i] {
			return &ConsistencyViolation{Source: i, Target: -1, Reason: "state index was never discovered"}
		}
		if !g.expanded[i] {
			return &ConsistencyViolation{Source: i, Target: -1, Reason: "dangling state that was never expanded"}
		}
		if err := check(i, g.groups[i]); err != nil {
			return err
		}
	}
	g.finalized = true
	g.logger.Debug("Finalized state space", "states", len(g.groups), "unnormalized", len(g.unnormalized))
	return nil
}

// The unnormalized states recorded so far
func (g *graph) Unnormalized() []UnnormalizedState {
	g.Lock()
	defer g.Unlock()
	return slices.Clone(g.unnormalized)
}

// Builds a discrete-time Markov chain.
// Rejects nondeterministic choices.
type MarkovChainBuilder struct {
	*graph
	chain *state.MarkovChain
}

// tolerance is the allowed deviation of the outgoing probability mass from one.
// A nil logger discards the diagnostics.
func NewMarkovChainBuilder(labelNames []string, tolerance float64, logger *slog.Logger) *MarkovChainBuilder {
	return &MarkovChainBuilder{graph: newGraph(labelNames, tolerance, logger, true)}
}

// Freeze the Markov chain. Returns a ConsistencyViolation if the chain has dangling states.
func (mb *MarkovChainBuilder) Finalize() error {
	if err := mb.finalize(); err != nil {
		return err
	}
	mb.Lock()
	defer mb.Unlock()
	if mb.chain != nil {
		return nil
	}
	rows := make([][]state.Entry, len(mb.groups))
	for i, groups := range mb.groups {
		if len(groups) > 0 {
			rows[i] = groups[0]
		}
	}
	var initial []state.Entry
	if len(mb.initial) > 0 {
		initial = mb.initial[0]
	}
	mb.chain = state.NewMarkovChain(mb.labelNames, initial, rows, mb.labels, mb.failed)
	return nil
}

// The built chain. nil until Finalize succeeded
func (mb *MarkovChainBuilder) MarkovChain() *state.MarkovChain {
	mb.Lock()
	defer mb.Unlock()
	return mb.chain
}

func (mb *MarkovChainBuilder) String() string {
	return fmt.Sprintf("MarkovChainBuilder(%v states)", mb.stateCount())
}

// Builds a Markov decision process
type MDPBuilder struct {
	*graph
	mdp *state.MDP
}

func NewMDPBuilder(labelNames []string, tolerance float64, logger *slog.Logger) *MDPBuilder {
	return &MDPBuilder{graph: newGraph(labelNames, tolerance, logger, false)}
}

func (mb *MDPBuilder) Finalize() error {
	if err := mb.finalize(); err != nil {
		return err
	}
	mb.Lock()
	defer mb.Unlock()
	if mb.mdp == nil {
		mb.mdp = state.NewMDP(mb.labelNames, mb.initial, mb.groups, mb.labels, mb.failed)
	}
	return nil
}

// The built MDP. nil until Finalize succeeded
func (mb *MDPBuilder) MDP() *state.MDP {
	mb.Lock()
	defer mb.Unlock()
	return mb.mdp
}

func (mb *MDPBuilder) String() string {
	return fmt.Sprintf("MDPBuilder(%v states)", mb.stateCount())
}

func (g *graph) stateCount() int {
	g.Lock()
	defer g.Unlock()
	return len(g.groups)
}
