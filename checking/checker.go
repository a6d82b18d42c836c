package checking

import (
	"probmc/state"
)

// The Checker verifies that properties hold for the state space.
type Checker interface {
	// Verify that the configured properties hold for the provided state space
	Check(space state.StateSpace) (CheckerResponse, error)
}

// CheckerResponse is a response returned by a Checker
//
// Contains the result of checking the system.
type CheckerResponse interface {
	// Create a response.
	//
	// Returns a boolean that is true if all properties hold, false otherwise.
	// Returns a string describing the response.
	// This should include a detailed description of which property is violated and the path which caused it to be violated.
	Response() (bool, string)

	// Export the path which caused a property to be violated
	//
	// If a property was violated it will return a slice containing the sequence of state indices leading to the violation.
	// Otherwise it will return an empty slice.
	Export() []int
}
