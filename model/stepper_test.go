package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Flip a fair coin, on heads choose nondeterministically between 2 and 3.
func coinProgram() Program {
	return Program{
		StateVectorSize: 1,
		Labels: []Label{
			{Name: "heads", Holds: func(s []byte) bool { return s[0] >= 2 }},
		},
		Initial: func(c *Chooser, s []byte) error {
			s[0] = 0
			return nil
		},
		Step: func(c *Chooser, s []byte) error {
			if s[0] != 0 {
				return nil
			}
			if c.ChooseWithProbability(0.5, 0.5) == 0 {
				s[0] = byte(2 + c.Choose(2))
				return nil
			}
			s[0] = 1
			return nil
		},
	}
}

func TestStepperResolvesChoicesByReplay(t *testing.T) {
	m := NewStepper(coinProgram())
	require.NoError(t, m.Deserialize([]byte{0}))

	choice, ok := m.AvailableChoice()
	require.True(t, ok)
	assert.True(t, choice.IsProbabilistic())
	assert.Equal(t, 2, choice.Options)

	require.NoError(t, m.ResolveChoice(0))
	choice, ok = m.AvailableChoice()
	require.True(t, ok)
	assert.False(t, choice.IsProbabilistic())

	require.NoError(t, m.ResolveChoice(1))
	_, ok = m.AvailableChoice()
	assert.False(t, ok)

	out := make([]byte, 1)
	require.NoError(t, m.Serialize(out))
	assert.Equal(t, byte(3), out[0])

	labels, err := m.EvaluateLabels()
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, labels)
}

func TestStepperDeterministicStep(t *testing.T) {
	m := NewStepper(coinProgram())
	require.NoError(t, m.Deserialize([]byte{1}))
	_, ok := m.AvailableChoice()
	assert.False(t, ok)

	out := make([]byte, 1)
	require.NoError(t, m.Serialize(out))
	assert.Equal(t, byte(1), out[0])
}

func TestStepperInvalidSequences(t *testing.T) {
	m := NewStepper(coinProgram())
	require.NoError(t, m.Deserialize([]byte{1}))
	assert.ErrorIs(t, m.ResolveChoice(0), ErrNoPendingChoice)

	require.NoError(t, m.Deserialize([]byte{0}))
	assert.ErrorIs(t, m.Serialize(make([]byte, 1)), ErrChoicePending)
	assert.ErrorIs(t, m.ResolveChoice(2), ErrInvalidOption)
	_, err := m.EvaluateLabels()
	assert.ErrorIs(t, err, ErrChoicePending)

	assert.ErrorIs(t, m.Deserialize([]byte{0, 0}), ErrStateSize)
}

func TestStepperReset(t *testing.T) {
	p := Program{
		StateVectorSize: 1,
		Initial: func(c *Chooser, s []byte) error {
			s[0] = byte(10 + c.Choose(3))
			return nil
		},
	}
	m := NewStepper(p)
	seen := []byte{}
	for option := 0; option < 3; option++ {
		require.NoError(t, m.Reset())
		require.NoError(t, m.ResolveChoice(option))
		out := make([]byte, 1)
		require.NoError(t, m.Serialize(out))
		seen = append(seen, out[0])
	}
	assert.Equal(t, []byte{10, 11, 12}, seen)
}

func TestStepperReportsActivatedFaults(t *testing.T) {
	p := Program{
		StateVectorSize: 1,
		Step: func(c *Chooser, s []byte) error {
			if c.Choose(2) == 1 {
				c.Activate(3)
			}
			return nil
		},
	}
	m := NewStepper(p)
	require.NoError(t, m.Deserialize([]byte{0}))
	require.NoError(t, m.ResolveChoice(1))
	assert.True(t, m.ActivatedFaults().Has(3))

	require.NoError(t, m.Deserialize([]byte{0}))
	require.NoError(t, m.ResolveChoice(0))
	assert.Equal(t, 0, m.ActivatedFaults().Len())
}

func TestStepperStepErrorsAreReturned(t *testing.T) {
	boom := errors.New("boom")
	p := Program{
		StateVectorSize: 1,
		Step: func(c *Chooser, s []byte) error {
			return boom
		},
	}
	m := NewStepper(p)
	assert.ErrorIs(t, m.Deserialize([]byte{0}), boom)
}

func TestChoiceDecide(t *testing.T) {
	d, err := Probabilistic(0.25, 0.75).Decide(1)
	require.NoError(t, err)
	assert.Equal(t, 0.75, d.Probability)
	assert.False(t, d.Nondeterministic)

	d, err = Nondeterministic(2).Decide(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Probability)
	assert.True(t, d.Nondeterministic)

	_, err = Nondeterministic(2).Decide(2)
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestStepperChooserMisuseIsReturned(t *testing.T) {
	p := Program{
		StateVectorSize: 1,
		Step: func(c *Chooser, s []byte) error {
			c.Choose(0)
			return nil
		},
	}
	m := NewStepper(p)
	assert.ErrorIs(t, m.Deserialize([]byte{0}), ErrNoChoices)
}

func TestStepperProgramPanicsPropagate(t *testing.T) {
	p := Program{
		StateVectorSize: 1,
		Step: func(c *Chooser, s []byte) error {
			panic("broken model")
		},
	}
	m := NewStepper(p)
	assert.Panics(t, func() { m.Deserialize([]byte{0}) })
}
