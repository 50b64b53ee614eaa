package builtin

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhost-dev/flowhost/internal/domain/capability"
	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm/hostfuncs"
)

func invokeRepeat(t *testing.T, inputs map[string]json.RawMessage) execution.Result {
	t.Helper()

	pkg := NewRepeatPackage()
	in := execution.Input{RunID: "run-1", NodeName: RepeatNodeName, Inputs: inputs}
	def, ok := pkg.Definition(RepeatNodeName)
	require.True(t, ok)

	session := hostfuncs.NewSession(in, def, capability.NewEnforcer(pkg.Permissions(), nil))
	result, err := pkg.Invoke(context.Background(), session, in)
	require.NoError(t, err)
	return result
}

func TestRepeatCountsRunesNotBytes(t *testing.T) {
	t.Parallel()

	result := invokeRepeat(t, map[string]json.RawMessage{
		"input_text": []byte(`"héllo"`),
		"multiplier": []byte(`2`),
	})

	require.Nil(t, result.Error)
	assert.JSONEq(t, `"héllohéllo"`, string(result.Outputs["output_text"]))
	assert.JSONEq(t, `10`, string(result.Outputs["char_count"]))
	assert.Equal(t, []string{"exec_out"}, result.ActivateExec)
}

func TestRepeatRejectsMistypedInput(t *testing.T) {
	t.Parallel()

	result := invokeRepeat(t, map[string]json.RawMessage{
		"input_text": []byte(`42`),
		"multiplier": []byte(`2`),
	})

	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "input_text")
	assert.Empty(t, result.ActivateExec)
}

func TestRepeatDefinitionValidates(t *testing.T) {
	t.Parallel()

	pkg := NewRepeatPackage()
	def, ok := pkg.Definition(RepeatNodeName)
	require.True(t, ok)
	require.NoError(t, def.Validate())

	assert.Len(t, def.InputPins(), 3)
	assert.Len(t, def.OutputPins(), 3)
	assert.False(t, def.IsPure())
	assert.Empty(t, pkg.Permissions().Names())
	assert.Len(t, pkg.Digest(), 64)
}
