package jsruntime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoSource = `function main(input, context) { return { echoed: input.msg, executionId: context.executionId }; }`

func TestRunEchoTask(t *testing.T) {
	res := Run(Request{
		Source:       echoSource,
		InputSchema:  `{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`,
		OutputSchema: `{"type":"object","properties":{"echoed":{"type":"string"}},"required":["echoed"]}`,
		Input:        `{"msg":"hi"}`,
		Context:      NewExecutionContext(1, 2, "1.0.0", nil),
	})
	require.Nil(t, res.Err)
	assert.JSONEq(t, `{"echoed":"hi","executionId":"1"}`, res.Output)
}

func TestRunInputValidationFailure(t *testing.T) {
	res := Run(Request{
		Source:       echoSource,
		InputSchema:  `{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`,
		OutputSchema: `{}`,
		Input:        `{"a":1}`,
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, "Validation", res.Err.Kind)
}

func TestRunCompileErrorOnNonCallableExport(t *testing.T) {
	res := Run(Request{
		Source:       `var x = 1;`,
		InputSchema:  `{}`,
		OutputSchema: `{}`,
		Input:        `{}`,
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, "JsRuntime.Compile", res.Err.Kind)
}

func TestRunTypedThrowForwardedVerbatim(t *testing.T) {
	res := Run(Request{
		Source:       `function main(input) { throw new ValidationError("bad field", {field: "x"}); }`,
		InputSchema:  `{}`,
		OutputSchema: `{}`,
		Input:        `{}`,
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, "JsRuntime.TypedJs", res.Err.Kind)
	assert.Equal(t, "bad field", res.Err.Message)
}

func TestRunRuntimeExceptionClassifiedAsJsRuntimeRuntime(t *testing.T) {
	res := Run(Request{
		Source:       `function main(input) { return input.nope.deeper; }`,
		InputSchema:  `{}`,
		OutputSchema: `{}`,
		Input:        `{}`,
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, "JsRuntime.Runtime", res.Err.Kind)
}

func TestValidateIdempotent(t *testing.T) {
	schema := `{"type":"object","required":["a"]}`
	err1 := Validate(schema, `{"a":1}`)
	err2 := Validate(schema, `{"a":1}`)
	assert.Equal(t, err1, err2)
}

func TestModuleExportsPreferredOverGlobalMain(t *testing.T) {
	res := Run(Request{
		Source:       `module.exports = function(input) { return {via: "exports"}; }; function main(input) { return {via: "main"}; }`,
		InputSchema:  `{}`,
		OutputSchema: `{}`,
		Input:        `{}`,
	})
	require.Nil(t, res.Err)
	assert.JSONEq(t, `{"via":"exports"}`, res.Output)
}
