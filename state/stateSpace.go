package state

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/exp/slices"
)

// A frozen state space produced by a traversal.
//
// Implementations are read only and safe to use from multiple goroutines.
type StateSpace interface {
	StateCount() int
	// The indices of the states that the model can start in, sorted ascending
	InitialStates() []int
	// All outgoing entries of the state.
	// For decision processes the entries of all choice groups are concatenated.
	SuccessorsOf(index int) []Entry
	LabelsOf(index int) LabelSet
	LabelNames() []string
	LabelIndex(name string) (int, bool)
	// True if the model failed while the state was expanded
	Failed(index int) bool

	// Write a Graphviz representation of the state space to the writer
	Export(w io.Writer) error
}

type labeling struct {
	names  []string
	labels []LabelSet
	failed []bool
}

func (l labeling) LabelsOf(index int) LabelSet {
	return l.labels[index]
}

func (l labeling) LabelNames() []string {
	return slices.Clone(l.names)
}

func (l labeling) LabelIndex(name string) (int, bool) {
	i := slices.Index(l.names, name)
	return i, i >= 0
}

func (l labeling) Failed(index int) bool {
	return l.failed[index]
}

func (l labeling) describe(index int) string {
	names := []string{}
	for i, name := range l.names {
		if l.labels[index].Has(i) {
			names = append(names, name)
		}
	}
	out := fmt.Sprintf("%v", index)
	if len(names) > 0 {
		out += " {" + strings.Join(names, ",") + "}"
	}
	if l.failed[index] {
		out += " FAILED"
	}
	return out
}

// A discrete-time Markov chain.
//
// Every state has an ordered list of successors whose probabilities sum to one,
// unless the model failed while the state was expanded.
type MarkovChain struct {
	labeling

	initial []Entry
	rows    [][]Entry
}

// Create a new MarkovChain.
//
// The chain takes ownership of the provided slices.
// rows, labels and failed must have one element per state.
func NewMarkovChain(labelNames []string, initial []Entry, rows [][]Entry, labels []LabelSet, failed []bool) *MarkovChain {
	return &MarkovChain{
		labeling: labeling{names: labelNames, labels: labels, failed: failed},
		initial:  initial,
		rows:     rows,
	}
}

func (mc *MarkovChain) StateCount() int {
	return len(mc.rows)
}

func (mc *MarkovChain) InitialStates() []int {
	return targets(mc.initial)
}

// The probability distribution over the initial states
func (mc *MarkovChain) InitialDistribution() []Entry {
	return mc.initial
}

func (mc *MarkovChain) SuccessorsOf(index int) []Entry {
	return mc.rows[index]
}

// Number of transitions in the chain, not counting the initial distribution
func (mc *MarkovChain) TransitionCount() int {
	n := 0
	for _, row := range mc.rows {
		n += len(row)
	}
	return n
}

func (mc *MarkovChain) Export(w io.Writer) error {
	buf := bufio.NewWriter(w)
	fmt.Fprintln(buf, "digraph markovchain {")
	fmt.Fprintln(buf, "\tinit [shape=point];")
	for i := range mc.rows {
		fmt.Fprintf(buf, "\ts%v [label=%q];\n", i, mc.describe(i))
	}
	for _, e := range mc.initial {
		fmt.Fprintf(buf, "\tinit -> s%v [label=\"%v\"];\n", e.Target, e.Probability)
	}
	for i, row := range mc.rows {
		for _, e := range row {
			fmt.Fprintf(buf, "\ts%v -> s%v [label=\"%v\"];\n", i, e.Target, e.Probability)
		}
	}
	fmt.Fprintln(buf, "}")
	return buf.Flush()
}

// A Markov decision process.
//
// Every state has a list of choice groups.
// The scheduler picks one group, the successor is then drawn from the distribution of the group.
type MDP struct {
	labeling

	initial [][]Entry
	groups  [][][]Entry
}

// Create a new MDP.
//
// The MDP takes ownership of the provided slices.
// groups, labels and failed must have one element per state.
func NewMDP(labelNames []string, initial [][]Entry, groups [][][]Entry, labels []LabelSet, failed []bool) *MDP {
	return &MDP{
		labeling: labeling{names: labelNames, labels: labels, failed: failed},
		initial:  initial,
		groups:   groups,
	}
}

func (m *MDP) StateCount() int {
	return len(m.groups)
}

func (m *MDP) InitialStates() []int {
	all := []Entry{}
	for _, g := range m.initial {
		all = append(all, g...)
	}
	return targets(all)
}

// The choice groups selecting the initial state
func (m *MDP) InitialChoices() [][]Entry {
	return m.initial
}

// The choice groups of the state
func (m *MDP) ChoicesOf(index int) [][]Entry {
	return m.groups[index]
}

func (m *MDP) SuccessorsOf(index int) []Entry {
	out := []Entry{}
	for _, g := range m.groups[index] {
		out = append(out, g...)
	}
	return out
}

// Number of entries in all choice groups, not counting the initial choices
func (m *MDP) TransitionCount() int {
	n := 0
	for _, groups := range m.groups {
		for _, g := range groups {
			n += len(g)
		}
	}
	return n
}

func (m *MDP) Export(w io.Writer) error {
	buf := bufio.NewWriter(w)
	fmt.Fprintln(buf, "digraph mdp {")
	fmt.Fprintln(buf, "\tinit [shape=point];")
	for i := range m.groups {
		fmt.Fprintf(buf, "\ts%v [label=%q];\n", i, m.describe(i))
	}
	writeGroups(buf, "init", m.initial)
	for i, groups := range m.groups {
		writeGroups(buf, fmt.Sprintf("s%v", i), groups)
	}
	fmt.Fprintln(buf, "}")
	return buf.Flush()
}

func writeGroups(w io.Writer, from string, groups [][]Entry) {
	for c, g := range groups {
		choice := fmt.Sprintf("%v_c%v", from, c)
		fmt.Fprintf(w, "\t%v [shape=point];\n", choice)
		fmt.Fprintf(w, "\t%v -> %v [arrowhead=none];\n", from, choice)
		for _, e := range g {
			fmt.Fprintf(w, "\t%v -> s%v [label=\"%v\"];\n", choice, e.Target, e.Probability)
		}
	}
}

func targets(entries []Entry) []int {
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		if !slices.Contains(out, e.Target) {
			out = append(out, e.Target)
		}
	}
	slices.Sort(out)
	return out
}
