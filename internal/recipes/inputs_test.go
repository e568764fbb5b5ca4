package recipes

import (
	"encoding/json"
	"testing"

	"github.com/rendis/recipe-engine/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputHelpers(t *testing.T) {
	in := map[string]any{
		"s":     "  hello ",
		"blank": "   ",
		"n":     float64(4),
		"ns":    "7",
		"f":     "2.5",
		"b":     "on",
		"bb":    true,
		"lines": "https://a.test\n\n  https://b.test  \n",
		"num":   json.Number("9"),
	}
	assert.Equal(t, "hello", StringInput(in, "s", "x"))
	assert.Equal(t, "x", StringInput(in, "blank", "x"))
	assert.Equal(t, "4", StringInput(in, "n", ""))
	assert.Equal(t, 4, IntInput(in, "n", 0))
	assert.Equal(t, 7, IntInput(in, "ns", 0))
	assert.Equal(t, 9, IntInput(in, "num", 0))
	assert.Equal(t, 1, IntInput(in, "s", 1))
	assert.InDelta(t, 2.5, FloatInput(in, "f", 0), 1e-9)
	assert.True(t, BoolInput(in, "b", false))
	assert.True(t, BoolInput(in, "bb", false))
	assert.True(t, BoolInput(in, "missing", true))
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, LinesInput(in, "lines"))
}

func TestApprovedScenes_FromStoredJSON(t *testing.T) {
	var in map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"_approved_scenes": [{"index": 0, "scene_description": "Hero", "video_motion": "pan"}],
		"_script_outputs": [{"type": "text", "title": "Script summary", "value": "ok"}]
	}`), &in))

	scenes, err := ApprovedScenes(in)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "Hero", scenes[0].Description)
	assert.Equal(t, "pan", scenes[0].Motion)

	outputs := ScriptOutputs(in)
	require.Len(t, outputs, 1)
	assert.Equal(t, schema.OutputText, outputs[0].Type)
}

func TestApprovedScenes_FromTypedValues(t *testing.T) {
	in := map[string]any{schema.InputApprovedScenes: []schema.Scene{{Index: 1, Description: "Close up"}}}
	scenes, err := ApprovedScenes(in)
	require.NoError(t, err)
	assert.Equal(t, "Close up", scenes[0].Description)

	_, err = ApprovedScenes(map[string]any{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
