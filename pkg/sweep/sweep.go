// Package sweep expands per-parameter candidate sequences into an ordered
// list of fully-resolved parameter sets, one per simulation subset.
package sweep

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/veldtlabs/cascade/pkg/state"
)

// Generate expands params into one parameter set per sweep index. The sweep
// length is the longest candidate sequence; shorter sequences are padded by
// repeating their last value. Parameters with an empty candidate sequence are
// omitted from every set. An empty params mapping yields an empty sweep,
// which signals the caller to run with the unswept params directly.
func Generate(params map[string][]cty.Value) []state.ParameterSet {
	maxLen := 0
	for _, seq := range params {
		if len(seq) > maxLen {
			maxLen = len(seq)
		}
	}

	sets := make([]state.ParameterSet, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		set := make(state.ParameterSet, len(params))
		for name, seq := range params {
			if len(seq) == 0 {
				continue
			}
			if i < len(seq) {
				set[name] = seq[i]
			} else {
				set[name] = seq[len(seq)-1]
			}
		}
		sets = append(sets, set)
	}
	return sets
}
