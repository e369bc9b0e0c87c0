package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	cascerr "github.com/veldtlabs/cascade/pkg/errors"
	"github.com/veldtlabs/cascade/pkg/simulation"
	"github.com/veldtlabs/cascade/pkg/state"
)

func constantPolicy(signals state.Signals) simulation.PolicyFn {
	return func(state.ParameterSet, int, state.Trajectory, state.Substate) (state.Signals, error) {
		return signals, nil
	}
}

func TestReduceSignalsZeroPolicies(t *testing.T) {
	signals, err := ReduceSignals(nil, 0, nil, state.Substate{}, simulation.Block{})
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestReduceSignalsSinglePolicyPassthrough(t *testing.T) {
	block := simulation.Block{
		Policies: []simulation.Policy{
			{Name: "p1", Fn: constantPolicy(state.Signals{"s": cty.NumberIntVal(5)})},
		},
	}

	signals, err := ReduceSignals(nil, 0, nil, state.Substate{}, block)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.True(t, signals["s"].RawEquals(cty.NumberIntVal(5)))
}

func TestReduceSignalsAdditiveMerge(t *testing.T) {
	block := simulation.Block{
		Policies: []simulation.Policy{
			{Name: "p1", Fn: constantPolicy(state.Signals{"s": cty.NumberIntVal(1)})},
			{Name: "p2", Fn: constantPolicy(state.Signals{"s": cty.NumberIntVal(2), "only": cty.StringVal("here")})},
		},
	}

	signals, err := ReduceSignals(nil, 0, nil, state.Substate{}, block)
	require.NoError(t, err)
	assert.True(t, signals["s"].RawEquals(cty.NumberIntVal(3)))
	assert.True(t, signals["only"].RawEquals(cty.StringVal("here")))
}

func TestReduceSignalsDeterministicOrder(t *testing.T) {
	// String concatenation is not commutative, so the declared policy order
	// must be observable in the merged result.
	block := simulation.Block{
		Policies: []simulation.Policy{
			{Name: "first", Fn: constantPolicy(state.Signals{"m": cty.StringVal("a")})},
			{Name: "second", Fn: constantPolicy(state.Signals{"m": cty.StringVal("b")})},
			{Name: "third", Fn: constantPolicy(state.Signals{"m": cty.StringVal("c")})},
		},
	}

	for i := 0; i < 20; i++ {
		signals, err := ReduceSignals(nil, 0, nil, state.Substate{}, block)
		require.NoError(t, err)
		assert.True(t, signals["m"].RawEquals(cty.StringVal("abc")))
	}
}

func TestReduceSignalsMergeError(t *testing.T) {
	block := simulation.Block{
		Policies: []simulation.Policy{
			{Name: "p1", Fn: constantPolicy(state.Signals{"s": cty.StringVal("x")})},
			{Name: "p2", Fn: constantPolicy(state.Signals{"s": cty.NumberIntVal(1)})},
		},
	}

	_, err := ReduceSignals(nil, 0, nil, state.Substate{}, block)
	require.Error(t, err)
	assert.True(t, cascerr.IsSignalMerge(err))
}

func TestReduceSignalsUserError(t *testing.T) {
	boom := errors.New("boom")
	block := simulation.Block{
		Policies: []simulation.Policy{
			{Name: "p1", Fn: func(state.ParameterSet, int, state.Trajectory, state.Substate) (state.Signals, error) {
				return nil, boom
			}},
		},
	}

	_, err := ReduceSignals(nil, 0, nil, state.Substate{}, block)
	require.Error(t, err)
	assert.True(t, cascerr.IsUserFunction(err))
	assert.True(t, errors.Is(err, boom))
}

func TestReduceSignalsPolicyPanic(t *testing.T) {
	block := simulation.Block{
		Policies: []simulation.Policy{
			{Name: "p1", Fn: func(state.ParameterSet, int, state.Trajectory, state.Substate) (state.Signals, error) {
				panic("forced panic from policy function")
			}},
		},
	}

	_, err := ReduceSignals(nil, 0, nil, state.Substate{}, block)
	require.Error(t, err)
	assert.True(t, cascerr.IsUserFunction(err))
	assert.Contains(t, err.Error(), "forced panic")
}

func TestReduceSignalsNilPolicy(t *testing.T) {
	block := simulation.Block{
		Policies: []simulation.Policy{{Name: "p1", Fn: nil}},
	}

	_, err := ReduceSignals(nil, 0, nil, state.Substate{}, block)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cascerr.ErrNotCallable))
}

func TestReduceSignalsNilResultIsEmpty(t *testing.T) {
	block := simulation.Block{
		Policies: []simulation.Policy{{Name: "p1", Fn: constantPolicy(nil)}},
	}

	signals, err := ReduceSignals(nil, 0, nil, state.Substate{}, block)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
