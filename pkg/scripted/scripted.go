// Package scripted binds JavaScript functions to the engine's policy and
// state update contracts, so models can be defined without recompilation.
//
// A policy script is a function expression taking (params, substep, history,
// state) and returning an object; an update script additionally receives the
// aggregated signals and must return a [key, value] pair:
//
//	rt, _ := scripted.NewRuntime(4)
//	policy, _ := rt.Policy("grow", `function(params, substep, history, state) {
//	    return { delta: params.rate };
//	}`)
//	update, _ := rt.Update("apply", `function(params, substep, history, state, signals) {
//	    return ["x", state.x + signals.delta];
//	}`)
package scripted

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/zclconf/go-cty/cty"

	cascerr "github.com/veldtlabs/cascade/pkg/errors"
	"github.com/veldtlabs/cascade/pkg/simulation"
	"github.com/veldtlabs/cascade/pkg/state"
)

// Runtime compiles scripts and executes them on a pool of JavaScript VMs.
type Runtime struct {
	pool *VMPool
}

// NewRuntime creates a Runtime backed by at most maxVMs JavaScript runtimes.
// Size it to the engine's concurrency limit when scripted functions are used
// from parallel runs.
func NewRuntime(maxVMs int) *Runtime {
	return &Runtime{pool: NewVMPool(maxVMs)}
}

// Close releases the underlying VM pool.
func (r *Runtime) Close() error {
	return r.pool.Close()
}

// Policy compiles src as a JavaScript function expression and adapts it to
// the PolicyFn contract. The script must return an object; anything else
// fails with ErrPolicyResult. Script exceptions surface as ErrUserFunction.
func (r *Runtime) Policy(name, src string) (simulation.PolicyFn, error) {
	prog, err := compileFunction(name, src)
	if err != nil {
		return nil, err
	}

	return func(params state.ParameterSet, substep int, trajectory state.Trajectory, substate state.Substate) (state.Signals, error) {
		exported, err := r.call(prog, params, substep, trajectory, substate, nil)
		if err != nil {
			return nil, err
		}

		obj, ok := exported.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: script %q returned %T", cascerr.ErrPolicyResult, name, exported)
		}
		signals := make(state.Signals, len(obj))
		for k, v := range obj {
			converted, err := toCty(v)
			if err != nil {
				return nil, fmt.Errorf("%w: signal %q: %v", cascerr.ErrPolicyResult, k, err)
			}
			signals[k] = converted
		}
		return signals, nil
	}, nil
}

// Update compiles src as a JavaScript function expression and adapts it to
// the UpdateFn contract. The script must return a [key, value] array of
// length two with a string key; anything else fails with ErrUpdateResult.
func (r *Runtime) Update(name, src string) (simulation.UpdateFn, error) {
	prog, err := compileFunction(name, src)
	if err != nil {
		return nil, err
	}

	return func(params state.ParameterSet, substep int, trajectory state.Trajectory, substate state.Substate, signals state.Signals) (string, cty.Value, error) {
		exported, err := r.call(prog, params, substep, trajectory, substate, signals)
		if err != nil {
			return "", cty.NilVal, err
		}

		pair, ok := exported.([]interface{})
		if !ok || len(pair) != 2 {
			return "", cty.NilVal, fmt.Errorf("%w: script %q returned %T", cascerr.ErrUpdateResult, name, exported)
		}
		key, ok := pair[0].(string)
		if !ok {
			return "", cty.NilVal, fmt.Errorf("%w: script %q returned a non-string key", cascerr.ErrUpdateResult, name)
		}
		value, err := toCty(pair[1])
		if err != nil {
			return "", cty.NilVal, fmt.Errorf("%w: script %q: %v", cascerr.ErrUpdateResult, name, err)
		}
		return key, value, nil
	}, nil
}

// call runs the compiled function on a pooled VM. A non-nil signals argument
// is appended, which is how update scripts receive their fifth parameter.
func (r *Runtime) call(prog *goja.Program, params state.ParameterSet, substep int, trajectory state.Trajectory, substate state.Substate, signals state.Signals) (interface{}, error) {
	slot, err := r.pool.acquire()
	if err != nil {
		return nil, err
	}
	defer r.pool.release(slot)

	fn, err := slot.callable(prog)
	if err != nil {
		return nil, err
	}

	nativeParams, err := mappingToNative(params)
	if err != nil {
		return nil, err
	}
	nativeTrajectory, err := trajectoryToNative(trajectory)
	if err != nil {
		return nil, err
	}
	nativeSubstate, err := mappingToNative(substate)
	if err != nil {
		return nil, err
	}

	args := []goja.Value{
		slot.rt.ToValue(nativeParams),
		slot.rt.ToValue(substep),
		slot.rt.ToValue(nativeTrajectory),
		slot.rt.ToValue(nativeSubstate),
	}
	if signals != nil {
		nativeSignals, err := mappingToNative(signals)
		if err != nil {
			return nil, err
		}
		args = append(args, slot.rt.ToValue(nativeSignals))
	}

	result, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cascerr.ErrUserFunction, err)
	}
	return result.Export(), nil
}

func compileFunction(name, src string) (*goja.Program, error) {
	prog, err := goja.Compile(name, "("+src+")", true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script %q: %w", name, err)
	}
	return prog, nil
}
