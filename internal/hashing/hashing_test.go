package hashing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_StableAcrossMapKeyOrder(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1, "c": map[string]any{"y": 2, "x": 1}}
	b := map[string]any{"c": map[string]any{"x": 1, "y": 2}, "a": 1, "b": 2}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_StructVsEquivalentMap(t *testing.T) {
	type Point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	hStruct, err := Hash(Point{X: 1, Y: 2})
	require.NoError(t, err)
	hMap, err := Hash(map[string]any{"x": 1, "y": 2})
	require.NoError(t, err)
	assert.Equal(t, hStruct, hMap)
}

func TestHash_ArrayOrderMatters(t *testing.T) {
	ha, err := Hash([]int{1, 2, 3})
	require.NoError(t, err)
	hb, err := Hash([]int{3, 2, 1})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestCanonicalize_NonFiniteFloatsStringify(t *testing.T) {
	out := Canonicalize(map[string]any{"v": math.NaN()})
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.IsType(t, "", m["v"])
}

func TestCanonicalize_NilCollapsesToNull(t *testing.T) {
	var p *int
	out := Canonicalize(p)
	assert.Nil(t, out)
}

func TestHash_NilAndEmptyDiffer(t *testing.T) {
	hNil, err := Hash(nil)
	require.NoError(t, err)
	hEmpty, err := Hash(map[string]any{})
	require.NoError(t, err)
	assert.NotEqual(t, hNil, hEmpty)
}

func TestJobInputsHash_OrderIndependentOfCallerOrder(t *testing.T) {
	stored := map[string]string{
		"Input:.Prompt":     "hash-prompt",
		"Artifact:Gen.Out":  "hash-gen-out",
		"Input:.Seed":       "hash-seed",
	}
	resolve := func(id string) (string, bool) {
		h, ok := stored[id]
		return h, ok
	}

	h1, err := JobInputsHash([]string{"Input:.Prompt", "Artifact:Gen.Out", "Input:.Seed"}, resolve)
	require.NoError(t, err)
	h2, err := JobInputsHash([]string{"Input:.Seed", "Input:.Prompt", "Artifact:Gen.Out"}, resolve)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestJobInputsHash_MissingResolutionErrors(t *testing.T) {
	_, err := JobInputsHash([]string{"Input:.Missing"}, func(string) (string, bool) { return "", false })
	require.Error(t, err)
}

func TestJobInputsHash_ChangesWithResolvedHash(t *testing.T) {
	resolveA := func(string) (string, bool) { return "hash-a", true }
	resolveB := func(string) (string, bool) { return "hash-b", true }

	ha, err := JobInputsHash([]string{"Input:.Prompt"}, resolveA)
	require.NoError(t, err)
	hb, err := JobInputsHash([]string{"Input:.Prompt"}, resolveB)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestInputValueHash_AndArtefactOutputHash_AreHash(t *testing.T) {
	v := map[string]any{"hash": "abc", "size": 10, "mimeType": "image/png"}
	h1, err := InputValueHash(v)
	require.NoError(t, err)
	h2, err := ArtefactOutputHash(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
