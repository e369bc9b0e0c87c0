package engine

import (
	"errors"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	cascerr "github.com/veldtlabs/cascade/pkg/errors"
	"github.com/veldtlabs/cascade/pkg/simulation"
	"github.com/veldtlabs/cascade/pkg/state"
)

// ReduceSignals invokes every policy of the block against the isolated
// substate and merges their outputs into one signal mapping. With zero
// policies the result is empty, with one the policy output passes through
// unchanged, with several the outputs are combined key-wise under the
// additive rule in state.Add, in declared policy order.
func ReduceSignals(params state.ParameterSet, substep int, trajectory state.Trajectory, substate state.Substate, block simulation.Block) (state.Signals, error) {
	results := make([]state.Signals, 0, len(block.Policies))
	for _, policy := range block.Policies {
		if policy.Fn == nil {
			return nil, fmt.Errorf("policy %q: %w", policy.Name, cascerr.ErrNotCallable)
		}
		signals, err := callPolicy(policy.Fn, params, substep, trajectory, substate)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", policy.Name, err)
		}
		results = append(results, signals)
	}

	switch len(results) {
	case 0:
		return state.Signals{}, nil
	case 1:
		if results[0] == nil {
			return state.Signals{}, nil
		}
		return results[0], nil
	}

	merged := make(state.Signals)
	for _, signals := range results {
		for key, value := range signals {
			previous, ok := merged[key]
			if !ok {
				merged[key] = value
				continue
			}
			sum, err := state.Add(previous, value)
			if err != nil {
				return nil, fmt.Errorf("signal %q: %w", key, err)
			}
			merged[key] = sum
		}
	}
	return merged, nil
}

// callPolicy invokes a policy function, converting panics and plain errors
// into the user-function error class. Contract violations reported by
// adapters (for example scripted policies returning a non-mapping) keep
// their own class.
func callPolicy(fn simulation.PolicyFn, params state.ParameterSet, substep int, trajectory state.Trajectory, substate state.Substate) (signals state.Signals, err error) {
	defer func() {
		if r := recover(); r != nil {
			signals = nil
			err = fmt.Errorf("%w: panic: %v", cascerr.ErrUserFunction, r)
		}
	}()
	signals, err = fn(params, substep, trajectory, substate)
	if err != nil {
		return nil, wrapUserErr(err)
	}
	return signals, nil
}

// callUpdate invokes a state update function under the same panic and error
// wrapping rules as callPolicy.
func callUpdate(fn simulation.UpdateFn, params state.ParameterSet, substep int, trajectory state.Trajectory, substate state.Substate, signals state.Signals) (key string, value cty.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			key, value = "", cty.NilVal
			err = fmt.Errorf("%w: panic: %v", cascerr.ErrUserFunction, r)
		}
	}()
	key, value, err = fn(params, substep, trajectory, substate, signals)
	if err != nil {
		return "", cty.NilVal, wrapUserErr(err)
	}
	return key, value, nil
}

func wrapUserErr(err error) error {
	if errors.Is(err, cascerr.ErrPolicyResult) ||
		errors.Is(err, cascerr.ErrUpdateResult) ||
		errors.Is(err, cascerr.ErrUserFunction) {
		return err
	}
	return fmt.Errorf("%w: %w", cascerr.ErrUserFunction, err)
}
