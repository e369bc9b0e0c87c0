// Package simulation defines the model configuration consumed by the engine:
// the initial state, the ordered partial state update blocks and the swept
// parameter space, together with the policy and state update function
// contracts.
package simulation

import (
	"errors"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	cascerr "github.com/veldtlabs/cascade/pkg/errors"
	"github.com/veldtlabs/cascade/pkg/state"
)

// PolicyFn computes a signal contribution for the current substep. It must
// not mutate the trajectory; the substate it receives is an isolated copy.
type PolicyFn func(params state.ParameterSet, substep int, trajectory state.Trajectory, substate state.Substate) (state.Signals, error)

// UpdateFn consumes the aggregated signals of a substep and produces the new
// value for one state variable. The returned key must equal the variable name
// the function is registered under.
type UpdateFn func(params state.ParameterSet, substep int, trajectory state.Trajectory, substate state.Substate, signals state.Signals) (string, cty.Value, error)

// Policy is a named policy function. The order of policies within a block
// defines the signal combination order.
type Policy struct {
	Name string
	Fn   PolicyFn
}

// Variable binds a state variable name to its update function. The order of
// variables within a block defines the substep-internal processing order.
type Variable struct {
	Name string
	Fn   UpdateFn
}

// Block is one partial state update block: the policies feeding the substep's
// signals and the state variables the block is authorized to mutate.
type Block struct {
	Policies  []Policy
	Variables []Variable
}

// Model describes one system to simulate. It is owned by the caller and
// never mutated by the engine.
type Model struct {
	// InitialState is the state schema and its starting values. Every
	// variable declared by a block must exist here.
	InitialState state.Substate

	// Blocks is the ordered chain of partial state update blocks executed
	// as substeps within each timestep.
	Blocks []Block

	// Params maps each swept parameter name to its ordered candidate values.
	Params map[string][]cty.Value
}

// Validate performs the schema-closure check upfront: every variable declared
// by a block must exist in the initial state. The engine enforces the same
// invariant lazily during execution.
func (m Model) Validate() error {
	for i, block := range m.Blocks {
		for _, v := range block.Variables {
			if _, ok := m.InitialState[v.Name]; !ok {
				return fmt.Errorf("block %d declares variable %q: %w", i, v.Name, cascerr.ErrInvalidStateKey)
			}
		}
	}
	return nil
}

// Simulation pairs a model with its execution extent.
type Simulation struct {
	Model     Model
	Timesteps int
	Runs      int
}

// Validate checks the execution extent constraints.
func (s Simulation) Validate() error {
	if s.Timesteps < 0 {
		return errors.New("timesteps must not be negative")
	}
	if s.Runs < 1 {
		return errors.New("runs must be at least 1")
	}
	return nil
}
