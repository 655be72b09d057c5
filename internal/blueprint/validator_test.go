package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func simpleBlueprint() *Blueprint {
	return &Blueprint{
		Inputs: map[string]InputSpec{
			"Input:.Prompt": {CanonicalId: "Input:.Prompt"},
		},
		Producers: []Producer{
			{
				Alias:       "Gen",
				Provider:    "acme",
				Inputs:      []Connection{{Port: "prompt", Source: "Input:.Prompt"}},
				OutputNames: []string{"Out"},
			},
		},
	}
}

func TestValidate_ValidBlueprintHasNoErrors(t *testing.T) {
	r := Validate(simpleBlueprint())
	assert.Empty(t, r.Errors)
	assert.True(t, r.OK())
}

func TestValidate_MissingConnectionSourceIsError(t *testing.T) {
	b := simpleBlueprint()
	b.Producers[0].Inputs[0].Source = "Input:.NonExistentInput"

	r := Validate(b)
	assert.False(t, r.OK())
	assert.Equal(t, "V001", r.Errors[0].Code)
}

func TestValidate_SchemaViolationIsError(t *testing.T) {
	b := simpleBlueprint()
	b.Producers[0].InputSchema = map[string]PortType{"other": ""}

	r := Validate(b)
	assert.False(t, r.OK())
	assert.Equal(t, "V002", r.Errors[0].Code)
}

func TestValidate_LoopedProducerWithoutCountSourceIsError(t *testing.T) {
	b := simpleBlueprint()
	b.Producers[0].LoopSymbol = "i"

	r := Validate(b)
	assert.False(t, r.OK())
	assert.Equal(t, "V003", r.Errors[0].Code)
}

func TestValidate_CollectorWithoutLoopSymbolIsError(t *testing.T) {
	b := simpleBlueprint()
	b.Collectors = []Collector{{Alias: "Col", SourcePorts: []Connection{{Source: "Artifact:Gen.Out"}}}}

	r := Validate(b)
	assert.False(t, r.OK())
	assert.Equal(t, "V004", r.Errors[0].Code)
}

func TestValidate_ConditionWithMissingSourceIsError(t *testing.T) {
	b := simpleBlueprint()
	b.Producers[0].Condition = &Condition{InputId: "Input:.Missing"}

	r := Validate(b)
	assert.False(t, r.OK())
	assert.Equal(t, "V005", r.Errors[0].Code)
}

func TestValidate_TypeMismatchIsError(t *testing.T) {
	b := simpleBlueprint()
	b.Inputs["Input:.Prompt"] = InputSpec{CanonicalId: "Input:.Prompt", Type: "string"}
	b.Producers[0].InputSchema = map[string]PortType{"prompt": "number"}

	r := Validate(b)
	assert.False(t, r.OK())
	assert.Equal(t, "V006", r.Errors[0].Code)
}

func TestValidate_CycleIsError(t *testing.T) {
	b := &Blueprint{
		Inputs: map[string]InputSpec{},
		Producers: []Producer{
			{Alias: "A", Inputs: []Connection{{Port: "x", Source: "Artifact:B.Out"}}, OutputNames: []string{"Out"}},
			{Alias: "B", Inputs: []Connection{{Port: "x", Source: "Artifact:A.Out"}}, OutputNames: []string{"Out"}},
		},
	}
	r := Validate(b)
	assert.False(t, r.OK())
	found := false
	for _, e := range r.Errors {
		if e.Code == "V007" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_DimensionInconsistencyIsError(t *testing.T) {
	b := &Blueprint{
		Inputs: map[string]InputSpec{},
		Producers: []Producer{
			{Alias: "A", OutputNames: []string{"Out"}},
			{Alias: "B", OutputNames: []string{"Out"}},
			{
				Alias: "C",
				Inputs: []Connection{
					{Port: "p1", Source: "Artifact:A.Out[i]"},
					{Port: "p2", Source: "Artifact:B.Out[i]"},
				},
			},
		},
	}
	r := Validate(b)
	assert.False(t, r.OK())
	assert.Equal(t, "V008", r.Errors[0].Code)
}

func TestValidate_UnusedInputIsWarning(t *testing.T) {
	b := simpleBlueprint()
	b.Inputs["Input:.Unused"] = InputSpec{CanonicalId: "Input:.Unused"}

	r := Validate(b)
	assert.True(t, r.OK())
	found := false
	for _, w := range r.Warnings {
		if w.Code == "V009" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_EmptyBlueprintHasNoErrors(t *testing.T) {
	r := Validate(&Blueprint{Inputs: map[string]InputSpec{}})
	assert.True(t, r.OK())
}
