package model

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrNoPendingChoice = errors.New("model: no choice is pending")
	ErrChoicePending   = errors.New("model: the step has a pending choice")
	ErrInvalidOption   = errors.New("model: invalid option")
	ErrStateSize       = errors.New("model: state vector has the wrong size")
	ErrNoChoices       = errors.New("model: choice without options")
)

// The model failed while a specific state was expanded.
//
// Carries the data needed to reproduce the failure with a single worker.
type ExecutionFault struct {
	// Index of the state that was expanded. -1 while the initial states are computed.
	Index int
	// The serialized state that was expanded. nil while the initial states are computed.
	State []byte
	// The options that were resolved before the failure
	Path []int
	Err  error
	// Stack trace if the model panicked
	Stack []byte
}

func (ef *ExecutionFault) Error() string {
	if ef.Index < 0 {
		return fmt.Sprintf("model: execution fault while computing initial states (path %v): %v", ef.Path, ef.Err)
	}
	return fmt.Sprintf("model: execution fault in state %v [%v] (path %v): %v", ef.Index, hex.EncodeToString(ef.State), ef.Path, ef.Err)
}

func (ef *ExecutionFault) Unwrap() error {
	return ef.Err
}
