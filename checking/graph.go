package checking

import (
	"probmc/state"
)

// The choice groups of every state. States of a Markov chain have at most one group.
type system struct {
	n       int
	initial [][]state.Entry
	choices func(index int) [][]state.Entry
}

func chainSystem(mc *state.MarkovChain) system {
	return system{
		n:       mc.StateCount(),
		initial: [][]state.Entry{mc.InitialDistribution()},
		choices: func(i int) [][]state.Entry {
			row := mc.SuccessorsOf(i)
			if len(row) == 0 {
				return nil
			}
			return [][]state.Entry{row}
		},
	}
}

func mdpSystem(m *state.MDP) system {
	return system{
		n:       m.StateCount(),
		initial: m.InitialChoices(),
		choices: m.ChoicesOf,
	}
}

// The states with a transition of positive probability into each state
func (s system) predecessors() [][]int {
	pred := make([][]int, s.n)
	for i := 0; i < s.n; i++ {
		for _, g := range s.choices(i) {
			for _, e := range g {
				if e.Probability <= 0 {
					continue
				}
				if l := len(pred[e.Target]); l > 0 && pred[e.Target][l-1] == i {
					continue
				}
				pred[e.Target] = append(pred[e.Target], i)
			}
		}
	}
	return pred
}

// The states in phi from which some path through phi reaches target
func (s system) reachExists(phi, target []bool) []bool {
	pred := s.predecessors()
	reached := make([]bool, s.n)
	queue := []int{}
	for i, t := range target {
		if t {
			reached[i] = true
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, p := range pred[t] {
			if !reached[p] && phi[p] {
				reached[p] = true
				queue = append(queue, p)
			}
		}
	}
	return reached
}

// The states in phi from which every scheduler reaches target through phi with positive probability
func (s system) reachForall(phi, target []bool) []bool {
	reached := clone(target)
	for changed := true; changed; {
		changed = false
		for i := 0; i < s.n; i++ {
			if reached[i] || !phi[i] {
				continue
			}
			groups := s.choices(i)
			if len(groups) == 0 {
				continue
			}
			all := true
			for _, g := range groups {
				if !anyIn(g, reached) {
					all = false
					break
				}
			}
			if all {
				reached[i] = true
				changed = true
			}
		}
	}
	return reached
}

// Prob0 of a Markov chain: the states where phi U psi holds with probability 0
func Prob0(mc *state.MarkovChain, phi, psi []bool) []bool {
	return complement(chainSystem(mc).reachExists(phi, psi))
}

// Prob1 of a Markov chain: the states where phi U psi holds with probability 1
func Prob1(mc *state.MarkovChain, phi, psi []bool) []bool {
	sys := chainSystem(mc)
	return prob1(sys, phi, psi, complement(sys.reachExists(phi, psi)))
}

// The states where phi U psi has maximal probability 0
func Prob0E(m *state.MDP, phi, psi []bool) []bool {
	return complement(mdpSystem(m).reachExists(phi, psi))
}

// The states where phi U psi has minimal probability 0
func Prob0A(m *state.MDP, phi, psi []bool) []bool {
	return complement(mdpSystem(m).reachForall(phi, psi))
}

// The states where phi U psi has minimal probability 1
func Prob1A(m *state.MDP, phi, psi []bool) []bool {
	sys := mdpSystem(m)
	return prob1(sys, phi, psi, complement(sys.reachForall(phi, psi)))
}

// The states where phi U psi has maximal probability 1
func Prob1E(m *state.MDP, phi, psi []bool) []bool {
	return mdpSystem(m).prob1E(phi, psi)
}

// The states that can not reach a state of zero through phi and not psi
func prob1(sys system, phi, psi, zero []bool) []bool {
	through := make([]bool, sys.n)
	for i := range through {
		through[i] = phi[i] && !psi[i]
	}
	return complement(sys.reachExists(through, zero))
}

func (s system) prob1E(phi, psi []bool) []bool {
	u := make([]bool, s.n)
	for i := range u {
		u[i] = true
	}
	for {
		r := clone(psi)
		for changed := true; changed; {
			changed = false
			for i := 0; i < s.n; i++ {
				if r[i] || !phi[i] {
					continue
				}
				for _, g := range s.choices(i) {
					if allIn(g, u) && anyIn(g, r) {
						r[i] = true
						changed = true
						break
					}
				}
			}
		}
		if equal(r, u) {
			return u
		}
		u = r
	}
}

func anyIn(g []state.Entry, set []bool) bool {
	for _, e := range g {
		if e.Probability > 0 && set[e.Target] {
			return true
		}
	}
	return false
}

func allIn(g []state.Entry, set []bool) bool {
	for _, e := range g {
		if e.Probability > 0 && !set[e.Target] {
			return false
		}
	}
	return true
}

func complement(set []bool) []bool {
	out := make([]bool, len(set))
	for i, v := range set {
		out[i] = !v
	}
	return out
}

func clone(set []bool) []bool {
	return append([]bool{}, set...)
}

func equal(a, b []bool) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
