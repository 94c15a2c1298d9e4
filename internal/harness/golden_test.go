package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Regenerate with: go test ./internal/harness -run TestRunWithGolden -update
func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{
		"create_then_modify",
		"orphan_parent",
		"late_parent",
		"related_roots",
	} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalTrace_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/related_roots.yaml")
	require.NoError(t, err)

	var outputs [][]byte
	for i := 0; i < 3; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		data, err := MarshalTrace(scenario.Name, result)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[1], outputs[2])
	assert.Equal(t, byte('\n'), outputs[0][len(outputs[0])-1])
}

func TestMarshalTrace_OmitsEmptyUnresolved(t *testing.T) {
	data, err := MarshalTrace("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"scenario_name\": \"empty\",\n  \"trace\": []\n}\n", string(data))
}
