package state

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	cascerr "github.com/veldtlabs/cascade/pkg/errors"
)

// Add combines two values under the additive signal-merge rule:
//
//   - two numbers are added arithmetically
//   - two strings are concatenated
//   - two sequences (list, set or tuple) are concatenated into a tuple
//
// Every other combination, including mismatched kinds, fails with
// ErrSignalMerge; no coercion is attempted.
func Add(a, b cty.Value) (cty.Value, error) {
	if a.IsNull() || b.IsNull() || !a.IsKnown() || !b.IsKnown() {
		return cty.NilVal, fmt.Errorf("%w: null or unknown operand", cascerr.ErrSignalMerge)
	}

	ta, tb := a.Type(), b.Type()
	switch {
	case ta.Equals(cty.Number) && tb.Equals(cty.Number):
		return a.Add(b), nil

	case ta.Equals(cty.String) && tb.Equals(cty.String):
		return cty.StringVal(a.AsString() + b.AsString()), nil

	case isSequence(ta) && isSequence(tb):
		elems := append(a.AsValueSlice(), b.AsValueSlice()...)
		if len(elems) == 0 {
			return cty.EmptyTupleVal, nil
		}
		return cty.TupleVal(elems), nil
	}

	return cty.NilVal, fmt.Errorf("%w: cannot add %s to %s",
		cascerr.ErrSignalMerge, tb.FriendlyName(), ta.FriendlyName())
}

func isSequence(t cty.Type) bool {
	return t.IsListType() || t.IsSetType() || t.IsTupleType()
}
