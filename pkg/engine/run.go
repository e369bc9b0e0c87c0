package engine

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	cascerr "github.com/veldtlabs/cascade/pkg/errors"
	"github.com/veldtlabs/cascade/pkg/simulation"
	"github.com/veldtlabs/cascade/pkg/state"
)

// runContext carries everything one run needs: its coordinates within the
// batch, the read-only model pieces and the resolved parameter set.
type runContext struct {
	simulation   int
	run          int // zero-based; stamped into metadata as run+1
	subset       int
	initialState state.Substate
	blocks       []simulation.Block
	params       state.ParameterSet
}

func (rc *runContext) fail(timestep, substep int, variable string, err error) error {
	return &cascerr.RunError{
		Simulation: rc.simulation,
		Run:        rc.run + 1,
		Subset:     rc.subset,
		Timestep:   timestep,
		Substep:    substep,
		Variable:   variable,
		Err:        err,
	}
}

// stamp writes the run metadata into a substate. The substep key is managed
// separately because it changes within a timestep.
func (rc *runContext) stamp(s state.Substate, timestep int) {
	s[state.KeySimulation] = cty.NumberIntVal(int64(rc.simulation))
	s[state.KeySubset] = cty.NumberIntVal(int64(rc.subset))
	s[state.KeyRun] = cty.NumberIntVal(int64(rc.run + 1))
	s[state.KeyTimestep] = cty.NumberIntVal(int64(timestep))
}

// execute drives one full run and returns its trajectory: timesteps+1
// entries, where entry 0 wraps the stamped initial state. The model's own
// initial state is cloned before stamping and is never mutated. Any failure
// aborts the run; no partial trajectory is returned.
func (rc *runContext) execute(ctx context.Context, timesteps int) (state.Trajectory, error) {
	initial := rc.initialState.Clone()
	rc.stamp(initial, 0)
	initial[state.KeySubstep] = cty.NumberIntVal(0)

	trajectory := make(state.Trajectory, 0, timesteps+1)
	trajectory = append(trajectory, []state.Substate{initial})

	for timestep := 1; timestep <= timesteps; timestep++ {
		if err := ctx.Err(); err != nil {
			return nil, rc.fail(timestep, 0, "", err)
		}

		seed := trajectory.Last().Clone()
		rc.stamp(seed, timestep)

		entry, err := rc.runTimestep(timestep, trajectory, seed)
		if err != nil {
			return nil, err
		}
		trajectory = append(trajectory, entry)
	}
	return trajectory, nil
}

// runTimestep chains the ordered blocks through the substep executor. Each
// substep's result seeds the next; the trajectory passed down contains only
// completed timesteps.
func (rc *runContext) runTimestep(timestep int, trajectory state.Trajectory, seed state.Substate) ([]state.Substate, error) {
	entry := make([]state.Substate, 0, len(rc.blocks))
	working := seed
	for substep, block := range rc.blocks {
		result, err := rc.runSubstep(timestep, substep, trajectory, working, block)
		if err != nil {
			return nil, err
		}
		entry = append(entry, result)
		working = result
	}
	return entry, nil
}

// runSubstep applies one partial state update block. Variables are processed
// in declared order; each gets an isolated clone of the accumulating substate
// so in-place mutations by user functions can never leak into siblings or
// history, while applied updates remain visible to later variables.
func (rc *runContext) runSubstep(timestep, substep int, trajectory state.Trajectory, previous state.Substate, block simulation.Block) (state.Substate, error) {
	accumulated := previous.Clone()
	accumulated[state.KeySubstep] = cty.NumberIntVal(int64(substep + 1))

	for _, variable := range block.Variables {
		if _, ok := rc.initialState[variable.Name]; !ok {
			return nil, rc.fail(timestep, substep, variable.Name,
				fmt.Errorf("%w: declared in state update block", cascerr.ErrInvalidStateKey))
		}

		isolated := accumulated.Clone()

		signals, err := ReduceSignals(rc.params, substep, trajectory, isolated, block)
		if err != nil {
			return nil, rc.fail(timestep, substep, variable.Name, err)
		}

		if variable.Fn == nil {
			return nil, rc.fail(timestep, substep, variable.Name, cascerr.ErrNotCallable)
		}
		key, value, err := callUpdate(variable.Fn, rc.params, substep, trajectory, isolated, signals)
		if err != nil {
			return nil, rc.fail(timestep, substep, variable.Name, err)
		}

		if _, ok := rc.initialState[key]; !ok {
			return nil, rc.fail(timestep, substep, variable.Name,
				fmt.Errorf("%w: %q returned from state update function", cascerr.ErrInvalidStateKey, key))
		}
		if key != variable.Name {
			return nil, rc.fail(timestep, substep, variable.Name,
				fmt.Errorf("%w: function returned %q", cascerr.ErrStateKeyMismatch, key))
		}

		accumulated[key] = value
	}
	return accumulated, nil
}
