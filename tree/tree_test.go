package tree

import (
	"errors"
	"math"
	"testing"

	"probmc/state"
)

func nd(option int) state.Decision {
	return state.Decision{Option: option, Probability: 1, Nondeterministic: true}
}

func p(option int, probability float64) state.Decision {
	return state.Decision{Option: option, Probability: probability}
}

func equalGroups(a, b [][]state.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j].Target != b[i][j].Target || math.Abs(a[i][j].Probability-b[i][j].Probability) > 1e-12 {
				return false
			}
		}
	}
	return true
}

type insertion struct {
	path   []state.Decision
	target int
}

func TestGroups(t *testing.T) {
	tests := []struct {
		name     string
		paths    []insertion
		expected [][]state.Entry
	}{
		{
			"deterministic",
			[]insertion{{[]state.Decision{}, 3}},
			[][]state.Entry{{{Target: 3, Probability: 1}}},
		},
		{
			"probabilistic",
			[]insertion{{[]state.Decision{p(0, 0.6)}, 0}, {[]state.Decision{p(1, 0.4)}, 1}},
			[][]state.Entry{{{Target: 0, Probability: 0.6}, {Target: 1, Probability: 0.4}}},
		},
		{
			"nondeterministic",
			[]insertion{{[]state.Decision{nd(1)}, 5}, {[]state.Decision{nd(0)}, 4}},
			[][]state.Entry{{{Target: 4, Probability: 1}}, {{Target: 5, Probability: 1}}},
		},
		{
			// The nondeterministic choice is only made in the 0.6 branch
			"probabilistic then nondeterministic",
			[]insertion{
				{[]state.Decision{p(0, 0.6), nd(0)}, 2},
				{[]state.Decision{p(0, 0.6), nd(1)}, 3},
				{[]state.Decision{p(1, 0.4)}, 1},
			},
			[][]state.Entry{
				{{Target: 1, Probability: 0.4}, {Target: 2, Probability: 0.6}},
				{{Target: 1, Probability: 0.4}, {Target: 3, Probability: 0.6}},
			},
		},
		{
			"nondeterministic then probabilistic",
			[]insertion{
				{[]state.Decision{nd(0), p(0, 0.5)}, 1},
				{[]state.Decision{nd(0), p(1, 0.5)}, 1},
				{[]state.Decision{nd(1)}, 2},
			},
			[][]state.Entry{{{Target: 1, Probability: 1}}, {{Target: 2, Probability: 1}}},
		},
		{
			"independent nondeterminism in both branches",
			[]insertion{
				{[]state.Decision{p(0, 0.5), nd(0)}, 1},
				{[]state.Decision{p(0, 0.5), nd(1)}, 2},
				{[]state.Decision{p(1, 0.5), nd(0)}, 3},
				{[]state.Decision{p(1, 0.5), nd(1)}, 4},
			},
			[][]state.Entry{
				{{Target: 1, Probability: 0.5}, {Target: 3, Probability: 0.5}},
				{{Target: 1, Probability: 0.5}, {Target: 4, Probability: 0.5}},
				{{Target: 2, Probability: 0.5}, {Target: 3, Probability: 0.5}},
				{{Target: 2, Probability: 0.5}, {Target: 4, Probability: 0.5}},
			},
		},
	}
	for _, test := range tests {
		tree := New()
		for _, in := range test.paths {
			if err := tree.Insert(in.path, in.target); err != nil {
				t.Fatalf("Unexpected error in test %v: %v", test.name, err)
			}
		}
		if tree.Len() != len(test.paths) {
			t.Errorf("Unexpected length in test %v. Got %v. Expected %v", test.name, tree.Len(), len(test.paths))
		}
		groups, err := tree.Groups(0)
		if err != nil {
			t.Fatalf("Unexpected error in test %v: %v", test.name, err)
		}
		if !equalGroups(groups, test.expected) {
			t.Errorf("Unexpected groups in test %v. Got %v. Expected %v", test.name, groups, test.expected)
		}
	}
}

func TestInsertErrors(t *testing.T) {
	tree := New()
	if err := tree.Insert([]state.Decision{nd(0)}, 1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := tree.Insert([]state.Decision{nd(0)}, 1); !errors.Is(err, ErrDuplicatePath) {
		t.Errorf("unexpected error. Got %v. Expected: %v", err, ErrDuplicatePath)
	}
	if err := tree.Insert([]state.Decision{p(1, 0.5)}, 1); !errors.Is(err, ErrInconsistent) {
		t.Errorf("unexpected error. Got %v. Expected: %v", err, ErrInconsistent)
	}
	if err := tree.Insert([]state.Decision{nd(0), nd(1)}, 1); !errors.Is(err, ErrInconsistent) {
		t.Errorf("unexpected error. Got %v. Expected: %v", err, ErrInconsistent)
	}
	if err := tree.Insert([]state.Decision{}, 1); !errors.Is(err, ErrInconsistent) {
		t.Errorf("unexpected error. Got %v. Expected: %v", err, ErrInconsistent)
	}
}

func TestGroupLimit(t *testing.T) {
	tree := New()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			tree.Insert([]state.Decision{p(i, 0.25), nd(j)}, i*4+j)
		}
	}
	if _, err := tree.Groups(100); !errors.Is(err, ErrTooManyGroups) {
		t.Errorf("unexpected error. Got %v. Expected: %v", err, ErrTooManyGroups)
	}
	groups, err := tree.Groups(256)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(groups) != 256 {
		t.Errorf("Unexpected number of groups. Got %v. Expected 256", len(groups))
	}
}

func TestEmptyTree(t *testing.T) {
	groups, err := New().Groups(0)
	if err != nil || groups != nil {
		t.Errorf("Expected no groups for an empty tree. Got %v, %v", groups, err)
	}
}

func TestNewick(t *testing.T) {
	tree := New()
	tree.Insert([]state.Decision{p(0, 0.6)}, 0)
	tree.Insert([]state.Decision{p(1, 0.4)}, 1)
	expected := "(\"0@0.6 ->0\",\"1@0.4 ->1\")\"p\";"
	if tree.Newick() != expected {
		t.Errorf("Unexpected newick. Got %v. Expected %v", tree.Newick(), expected)
	}
}
