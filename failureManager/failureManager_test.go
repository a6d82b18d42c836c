package failureManager

import (
	"testing"

	"probmc/model"
	"probmc/state"

	"golang.org/x/exp/slices"
)

func sensorManager(t *testing.T) *FailureManager {
	fm, err := New(
		[]Fault{{Name: "stuck", Probability: 0.1}, {Name: "noise"}},
		Overlay{Name: "stuck-read", Fault: 0, Behavior: "read", Priority: 2},
		Overlay{Name: "noisy-read", Fault: 1, Behavior: "read", Priority: 1},
		Overlay{Name: "noisy-write", Fault: 1, Behavior: "write", Priority: 1},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return fm
}

func TestDispatch(t *testing.T) {
	fm := sensorManager(t)
	tests := []struct {
		behavior string
		active   state.FaultSet
		expected string
		ok       bool
	}{
		{"read", 0, "", false},
		{"read", state.FaultSet(0).With(1), "noisy-read", true},
		{"read", state.FaultSet(0).With(0).With(1), "stuck-read", true},
		{"write", state.FaultSet(0).With(0), "", false},
		{"write", state.FaultSet(0).With(1), "noisy-write", true},
		{"unknown", state.FaultSet(0).With(0).With(1), "", false},
	}
	for i, test := range tests {
		o, ok := fm.Dispatch(test.behavior, test.active)
		if ok != test.ok || o.Name != test.expected {
			t.Errorf("Unexpected overlay in test %v. Got %v %v. Expected %v %v", i, o.Name, ok, test.expected, test.ok)
		}
	}
}

func TestDispatchTiesUseRegistrationOrder(t *testing.T) {
	fm, err := New(
		[]Fault{{Name: "a", Probability: 1}, {Name: "b", Probability: 1}},
		Overlay{Name: "first", Fault: 0, Behavior: "run"},
		Overlay{Name: "second", Fault: 1, Behavior: "run"},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	o, _ := fm.Dispatch("run", state.FaultSet(0).With(0).With(1))
	if o.Name != "first" {
		t.Errorf("Unexpected overlay. Got %v. Expected first", o.Name)
	}
}

func TestActivateEnumeratesAllCombinations(t *testing.T) {
	fm := sensorManager(t)
	p := model.Program{
		StateVectorSize: 1,
		Step: func(c *model.Chooser, s []byte) error {
			s[0] = byte(fm.Activate(c))
			return nil
		},
	}
	m := model.NewStepper(p)
	seen := []byte{}
	for _, path := range [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
		if err := m.Deserialize([]byte{0}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		for _, option := range path {
			choice, ok := m.AvailableChoice()
			if !ok {
				t.Fatalf("Expected a pending choice")
			}
			if choice.IsProbabilistic() && choice.Probabilities[1] != 0.1 {
				t.Errorf("Unexpected activation probability. Got %v", choice.Probabilities)
			}
			if err := m.ResolveChoice(option); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		}
		out := make([]byte, 1)
		if err := m.Serialize(out); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if state.FaultSet(out[0]) != m.ActivatedFaults() {
			t.Errorf("Activated faults are not reported. Got %v. Expected %v", m.ActivatedFaults(), state.FaultSet(out[0]))
		}
		seen = append(seen, out[0])
	}
	if !slices.Equal(seen, []byte{0, 2, 1, 3}) {
		t.Errorf("Unexpected fault sets. Got %v. Expected [0 2 1 3]", seen)
	}
	if names := fm.Names(3); !slices.Equal(names, []string{"stuck", "noise"}) {
		t.Errorf("Unexpected names. Got %v", names)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New([]Fault{{Name: "a", Probability: 2}}); err == nil {
		t.Errorf("Expected an error for an invalid probability")
	}
	if _, err := New([]Fault{{Name: "a"}}, Overlay{Name: "o", Fault: 3, Behavior: "x"}); err == nil {
		t.Errorf("Expected an error for an unknown fault")
	}
	if _, err := New([]Fault{{Name: "a"}}, Overlay{Name: "o", Fault: 0}); err == nil {
		t.Errorf("Expected an error for an overlay without behavior")
	}
}
