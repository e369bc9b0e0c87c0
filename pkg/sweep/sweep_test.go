package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestGeneratePadsShorterSequences(t *testing.T) {
	params := map[string][]cty.Value{
		"a": {cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3)},
		"b": {cty.NumberIntVal(10), cty.NumberIntVal(20)},
	}

	sets := Generate(params)
	require.Len(t, sets, 3)

	wantA := []int64{1, 2, 3}
	wantB := []int64{10, 20, 20}
	for i, set := range sets {
		assert.True(t, set["a"].RawEquals(cty.NumberIntVal(wantA[i])), "set %d key a", i)
		assert.True(t, set["b"].RawEquals(cty.NumberIntVal(wantB[i])), "set %d key b", i)
	}
}

func TestGenerateEmptyParams(t *testing.T) {
	assert.Empty(t, Generate(map[string][]cty.Value{}))
	assert.Empty(t, Generate(nil))
}

func TestGenerateSingleParameter(t *testing.T) {
	sets := Generate(map[string][]cty.Value{
		"rate": {cty.NumberFloatVal(0.1), cty.NumberFloatVal(0.2)},
	})
	require.Len(t, sets, 2)
	assert.True(t, sets[0]["rate"].RawEquals(cty.NumberFloatVal(0.1)))
	assert.True(t, sets[1]["rate"].RawEquals(cty.NumberFloatVal(0.2)))
}

func TestGenerateOmitsEmptySequences(t *testing.T) {
	sets := Generate(map[string][]cty.Value{
		"a": {cty.NumberIntVal(1), cty.NumberIntVal(2)},
		"b": {},
	})
	require.Len(t, sets, 2)
	for i, set := range sets {
		_, ok := set["b"]
		assert.False(t, ok, "set %d should omit b", i)
	}
}

func TestGenerateMixedValueKinds(t *testing.T) {
	sets := Generate(map[string][]cty.Value{
		"label":   {cty.StringVal("low"), cty.StringVal("high")},
		"enabled": {cty.True},
	})
	require.Len(t, sets, 2)
	assert.True(t, sets[1]["label"].RawEquals(cty.StringVal("high")))
	// single candidate repeats for every subset
	assert.True(t, sets[1]["enabled"].RawEquals(cty.True))
}
