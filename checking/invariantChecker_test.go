package checking

import (
	"strings"
	"testing"

	"probmc/state"

	"golang.org/x/exp/slices"
)

// A chain 0 -> 1 -> 2 -> 3 -> 3 with a shortcut 0 -> 3
func lineChain(failed int) *state.MarkovChain {
	f := make([]bool, 4)
	if failed >= 0 {
		f[failed] = true
	}
	rows := [][]state.Entry{
		{{Target: 1, Probability: 0.5}, {Target: 3, Probability: 0.5}},
		{{Target: 2, Probability: 1}},
		{{Target: 3, Probability: 1}},
		{{Target: 3, Probability: 1}},
	}
	if failed >= 0 {
		rows[failed] = nil
	}
	return state.NewMarkovChain(
		[]string{"end"},
		[]state.Entry{{Target: 0, Probability: 1}},
		rows,
		[]state.LabelSet{0, 0, 0, state.LabelSet(0).With(0)},
		f,
	)
}

func TestInvariantHolds(t *testing.T) {
	ic := NewInvariantChecker(Or(Label("end"), Not(Label("end"))))
	resp, err := ic.Check(lineChain(-1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok, desc := resp.Response(); !ok {
		t.Errorf("Expected the invariant to hold. Got: %v", desc)
	}
	if len(resp.Export()) != 0 {
		t.Errorf("Expected no counterexample. Got %v", resp.Export())
	}
}

func TestInvariantCounterexampleIsShortest(t *testing.T) {
	ic := NewInvariantChecker(True(), Not(Label("end"))).WithVectors(func(i int) ([]byte, bool) {
		return []byte{byte(i)}, true
	})
	resp, err := ic.Check(lineChain(-1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	ok, desc := resp.Response()
	if ok {
		t.Fatalf("Expected the invariant to be violated")
	}
	if !slices.Equal(resp.Export(), []int{0, 3}) {
		t.Errorf("Unexpected counterexample. Got %v. Expected [0 3]", resp.Export())
	}
	if !strings.Contains(desc, "Invariant 1: !end") || !strings.Contains(desc, "03") {
		t.Errorf("Unexpected description: %v", desc)
	}
}

func TestInvariantFailedStates(t *testing.T) {
	resp, err := NewInvariantChecker(Not(Failed())).Check(lineChain(2))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !slices.Equal(resp.Export(), []int{0, 1, 2}) {
		t.Errorf("Unexpected counterexample. Got %v. Expected [0 1 2]", resp.Export())
	}

	resp, err = NewInvariantChecker(Not(Deadlock())).Check(lineChain(2))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !slices.Equal(resp.Export(), []int{0, 1, 2}) {
		t.Errorf("Unexpected counterexample. Got %v. Expected [0 1 2]", resp.Export())
	}
}

func TestFormulaString(t *testing.T) {
	tests := []struct {
		f        PathFormula
		expected string
	}{
		{Finally(Label("a")), "F a"},
		{BoundedFinally(And(Label("a"), Not(Label("b"))), 3), "F<=3 (a & !b)"},
		{Until(Label("a"), Or(Label("b"), Failed())), "a U (b | failed)"},
	}
	for _, test := range tests {
		if test.f.String() != test.expected {
			t.Errorf("Unexpected string. Got %v. Expected %v", test.f.String(), test.expected)
		}
	}
}
