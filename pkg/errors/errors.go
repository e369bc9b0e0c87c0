package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStateKey indicates that a state update block declares, or a
	// state update function returned, a variable name that is not part of the
	// initial state schema
	ErrInvalidStateKey = errors.New("invalid state key")

	// ErrStateKeyMismatch indicates that a state update function returned a
	// key that differs from the variable it is registered under
	ErrStateKeyMismatch = errors.New("state key mismatch")

	// ErrNotCallable indicates that a configured policy or state update
	// function is nil and cannot be invoked
	ErrNotCallable = errors.New("function is not callable")

	// ErrPolicyResult indicates that a policy function produced something
	// other than a signal mapping
	ErrPolicyResult = errors.New("policy result is not a signal mapping")

	// ErrUpdateResult indicates that a state update function produced
	// something other than a (key, value) pair
	ErrUpdateResult = errors.New("state update result is not a key/value pair")

	// ErrSignalMerge indicates that two policy outputs share a key whose
	// values cannot be additively combined
	ErrSignalMerge = errors.New("signal values cannot be combined")

	// ErrUserFunction indicates that a user-supplied policy or state update
	// function failed or panicked
	ErrUserFunction = errors.New("user function failed")
)

// RunError wraps a failure inside a single run with the coordinates of the
// unit of work that produced it. Run is the 1-based run number as stamped
// into substate metadata.
type RunError struct {
	// Simulation is the index of the simulation within the batch
	Simulation int

	// Run is the 1-based run number
	Run int

	// Subset is the parameter sweep subset index
	Subset int

	// Timestep is the timestep being executed when the failure occurred
	Timestep int

	// Substep is the index of the partial state update block being executed
	Substep int

	// Variable is the state variable being processed, if any
	Variable string

	// Err is the underlying error
	Err error
}

// Error implements the error interface
func (e *RunError) Error() string {
	prefix := fmt.Sprintf("simulation %d run %d subset %d timestep %d substep %d",
		e.Simulation, e.Run, e.Subset, e.Timestep, e.Substep)
	if e.Variable != "" {
		prefix = fmt.Sprintf("%s variable %q", prefix, e.Variable)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

// Unwrap returns the underlying error
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsInvalidStateKey checks if an error is an invalid state key error
func IsInvalidStateKey(err error) bool {
	return errors.Is(err, ErrInvalidStateKey)
}

// IsStateKeyMismatch checks if an error is a state key mismatch error
func IsStateKeyMismatch(err error) bool {
	return errors.Is(err, ErrStateKeyMismatch)
}

// IsSignalMerge checks if an error is a signal merge error
func IsSignalMerge(err error) bool {
	return errors.Is(err, ErrSignalMerge)
}

// IsUserFunction checks if an error originated inside a user-supplied
// policy or state update function
func IsUserFunction(err error) bool {
	return errors.Is(err, ErrUserFunction)
}
