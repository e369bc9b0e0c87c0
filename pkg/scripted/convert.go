package scripted

import (
	"fmt"
	"math/big"

	"github.com/zclconf/go-cty/cty"

	"github.com/veldtlabs/cascade/pkg/state"
)

// toCty converts a value exported from a JavaScript runtime into the engine's
// value representation. Arrays become tuples and objects become object
// values, recursively.
func toCty(v interface{}) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int32:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case []interface{}:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(val))
		for i, elem := range val {
			converted, err := toCty(elem)
			if err != nil {
				return cty.NilVal, err
			}
			elems[i] = converted
		}
		return cty.TupleVal(elems), nil
	case map[string]interface{}:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, elem := range val {
			converted, err := toCty(elem)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = converted
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported script value of type %T", v)
	}
}

// fromCty converts an engine value into a plain Go value for injection into a
// JavaScript runtime. Integral numbers become int64 so scripts see exact
// integers; everything else becomes float64.
func fromCty(v cty.Value) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("unknown value cannot be passed to a script")
	}

	t := v.Type()
	switch {
	case t.Equals(cty.Bool):
		return v.True(), nil
	case t.Equals(cty.Number):
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case t.Equals(cty.String):
		return v.AsString(), nil
	case t.IsListType() || t.IsSetType() || t.IsTupleType():
		elems := v.AsValueSlice()
		out := make([]interface{}, len(elems))
		for i, elem := range elems {
			converted, err := fromCty(elem)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case t.IsMapType() || t.IsObjectType():
		attrs := v.AsValueMap()
		out := make(map[string]interface{}, len(attrs))
		for k, elem := range attrs {
			converted, err := fromCty(elem)
			if err != nil {
				return nil, err
			}
			out[k] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", t.FriendlyName())
	}
}

func mappingToNative(m map[string]cty.Value) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		converted, err := fromCty(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = converted
	}
	return out, nil
}

func trajectoryToNative(t state.Trajectory) ([]interface{}, error) {
	out := make([]interface{}, len(t))
	for i, entry := range t {
		substates := make([]interface{}, len(entry))
		for j, substate := range entry {
			converted, err := mappingToNative(substate)
			if err != nil {
				return nil, err
			}
			substates[j] = converted
		}
		out[i] = substates
	}
	return out, nil
}
