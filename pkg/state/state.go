// Package state defines the value representation shared by every stage of the
// engine: substates, parameter sets, policy signals and trajectories.
//
// All values are cty.Value instances. cty values form a closed tagged union
// (null, bool, number, string, list, set, tuple, map, object) and are
// immutable, so cloning a substate only requires copying its map; the values
// themselves can never alias mutable data between snapshots.
package state

import (
	"github.com/zclconf/go-cty/cty"
)

// Reserved metadata keys stamped into every substate by the engine.
const (
	KeySimulation = "simulation"
	KeySubset     = "subset"
	KeyRun        = "run"
	KeySubstep    = "substep"
	KeyTimestep   = "timestep"
)

// Substate is a point-in-time snapshot of the system state, including the
// reserved metadata keys. Substates appended to a trajectory are never
// mutated afterwards.
type Substate map[string]cty.Value

// Clone returns an isolated copy of the substate. Because cty values are
// immutable a key-wise copy is a deep copy.
func (s Substate) Clone() Substate {
	out := make(Substate, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ParameterSet is one fully-resolved parameter assignment.
type ParameterSet map[string]cty.Value

// Clone returns an isolated copy of the parameter set.
func (p ParameterSet) Clone() ParameterSet {
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Signals is the aggregated output of the policy functions of one substep.
type Signals map[string]cty.Value

// Trajectory is the complete ordered record of substates produced by one run.
// The outer index is the timestep (entry 0 wraps the initial state), the
// inner index is the substep within that timestep.
type Trajectory [][]Substate

// Last returns the most recent substate of the trajectory, which seeds the
// next timestep.
func (t Trajectory) Last() Substate {
	if len(t) == 0 {
		return nil
	}
	entry := t[len(t)-1]
	if len(entry) == 0 {
		return nil
	}
	return entry[len(entry)-1]
}

// Flatten concatenates all timestep entries into a single ordered sequence
// of substates.
func (t Trajectory) Flatten() []Substate {
	n := 0
	for _, entry := range t {
		n += len(entry)
	}
	out := make([]Substate, 0, n)
	for _, entry := range t {
		out = append(out, entry...)
	}
	return out
}
