package builder

import (
	"encoding/hex"
	"errors"
	"fmt"

	"probmc/state"
)

var ErrConsistency = errors.New("builder: consistency violation")

// An invariant of the built structure was violated.
// Always fatal to the traversal.
type ConsistencyViolation struct {
	Source int
	// -1 if the violation is not related to a specific target
	Target int
	// The serialized target state if available
	State  []byte
	Reason string
}

func (cv *ConsistencyViolation) Error() string {
	out := fmt.Sprintf("builder: consistency violation at state %v", cv.Source)
	if cv.Source == state.InitialSource {
		out = "builder: consistency violation in the initial states"
	}
	if cv.Target >= 0 {
		out += fmt.Sprintf(" (target %v", cv.Target)
		if cv.State != nil {
			out += " [" + hex.EncodeToString(cv.State) + "]"
		}
		out += ")"
	}
	return out + ": " + cv.Reason
}

func (cv *ConsistencyViolation) Is(target error) bool {
	return target == ErrConsistency
}

// The outgoing probabilities of a state, or of one choice group of the state, do not sum to one.
// Recorded as a diagnostic, the traversal continues.
type UnnormalizedState struct {
	// InitialSource for the initial distribution
	Index int
	// The choice group. Always 0 for Markov chains
	Choice int
	Sum    float64
}

func (us UnnormalizedState) String() string {
	return fmt.Sprintf("state %v choice %v has probability mass %v", us.Index, us.Choice, us.Sum)
}
