// Package tree records the decisions made while expanding a single state and
// flattens them into the choice groups of a Markov decision process.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"probmc/state"
)

var (
	ErrDuplicatePath = errors.New("tree: The path has already been added")
	ErrInconsistent  = errors.New("tree: The path is inconsistent with the tree")
	ErrTooManyGroups = errors.New("tree: Too many choice groups")
)

type kind int

const (
	undecided kind = iota
	leaf
	nondeterministic
	probabilistic
)

type node struct {
	kind kind

	// The decision on the edge from the parent
	option      int
	probability float64

	// Sorted by option
	children []*node

	target int
}

// The choice tree of a single expansion.
// Every complete path through the tree ends in a leaf holding the index of the reached state.
type Tree struct {
	root   *node
	leaves int
}

func New() *Tree {
	return &Tree{root: &node{probability: 1}}
}

// Returns the number of paths added to the tree
func (t *Tree) Len() int {
	return t.leaves
}

// Add a complete path of decisions that reached the target state
func (t *Tree) Insert(path []state.Decision, target int) error {
	n := t.root
	for depth, d := range path {
		k := probabilistic
		if d.Nondeterministic {
			k = nondeterministic
		}
		switch n.kind {
		case undecided:
			n.kind = k
		case leaf:
			return fmt.Errorf("%w: path %v continues after a leaf at depth %v", ErrInconsistent, path, depth)
		case k:
		default:
			return fmt.Errorf("%w: decision %v at depth %v does not match the kind of the choice", ErrInconsistent, d, depth)
		}
		n = n.child(d)
	}
	switch n.kind {
	case leaf:
		return fmt.Errorf("%w: %v", ErrDuplicatePath, path)
	case undecided:
		n.kind = leaf
		n.target = target
		t.leaves++
		return nil
	}
	return fmt.Errorf("%w: path %v ends at a choice", ErrInconsistent, path)
}

// Returns the child reached by the decision. Creates it if it does not exist
func (n *node) child(d state.Decision) *node {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].option >= d.Option })
	if i < len(n.children) && n.children[i].option == d.Option {
		return n.children[i]
	}
	c := &node{option: d.Option, probability: d.Probability}
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = c
	return c
}

// Flatten the tree into choice groups.
//
// Every nondeterministic choice creates a group per option, probabilistic choices combine the groups of their options.
// Within a group entries with the same target are merged and the entries are sorted by target.
// Returns ErrTooManyGroups if more than limit groups would be created. A limit <= 0 means no limit.
func (t *Tree) Groups(limit int) ([][]state.Entry, error) {
	if t.leaves == 0 {
		return nil, nil
	}
	groups, err := t.root.groups(limit)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i] = merge(groups[i])
	}
	return groups, nil
}

func (n *node) groups(limit int) ([][]state.Entry, error) {
	switch n.kind {
	case leaf:
		return [][]state.Entry{{{Target: n.target, Probability: 1}}}, nil
	case nondeterministic:
		groups := [][]state.Entry{}
		for _, c := range n.children {
			cg, err := c.groups(limit)
			if err != nil {
				return nil, err
			}
			groups = append(groups, cg...)
			if limit > 0 && len(groups) > limit {
				return nil, fmt.Errorf("%w: more than %v", ErrTooManyGroups, limit)
			}
		}
		return groups, nil
	case probabilistic:
		groups := [][]state.Entry{{}}
		for _, c := range n.children {
			cg, err := c.groups(limit)
			if err != nil {
				return nil, err
			}
			if limit > 0 && len(groups)*len(cg) > limit {
				return nil, fmt.Errorf("%w: more than %v", ErrTooManyGroups, limit)
			}
			product := make([][]state.Entry, 0, len(groups)*len(cg))
			for _, g := range groups {
				for _, h := range cg {
					combined := make([]state.Entry, len(g), len(g)+len(h))
					copy(combined, g)
					for _, e := range h {
						combined = append(combined, state.Entry{Target: e.Target, Probability: e.Probability * c.probability})
					}
					product = append(product, combined)
				}
			}
			groups = product
		}
		return groups, nil
	}
	return nil, fmt.Errorf("%w: incomplete path", ErrInconsistent)
}

func merge(group []state.Entry) []state.Entry {
	sort.SliceStable(group, func(i, j int) bool { return group[i].Target < group[j].Target })
	merged := group[:0]
	for _, e := range group {
		if len(merged) > 0 && merged[len(merged)-1].Target == e.Target {
			merged[len(merged)-1].Probability += e.Probability
			continue
		}
		merged = append(merged, e)
	}
	return merged
}

// Newick representation of the tree.
// Leaves are labelled with their target and choices with their kind.
func (t *Tree) Newick() string {
	out := strings.Builder{}
	t.root.newick(&out, true)
	out.WriteString(";")
	return out.String()
}

func (n *node) newick(out *strings.Builder, root bool) {
	if len(n.children) > 0 {
		out.WriteString("(")
		for i, child := range n.children {
			if i > 0 {
				out.WriteString(",")
			}
			child.newick(out, false)
		}
		out.WriteString(")")
	}
	label := ""
	switch n.kind {
	case leaf:
		label = fmt.Sprintf("->%v", n.target)
	case nondeterministic:
		label = "nd"
	case probabilistic:
		label = "p"
	}
	if !root {
		label = fmt.Sprintf("%v@%v %v", n.option, n.probability, label)
	}
	out.WriteString(fmt.Sprintf("\"%v\"", strings.TrimSpace(label)))
}
