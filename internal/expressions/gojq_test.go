package expressions

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/recipe-engine/pkg/schema"
)

func outputsDoc() map[string]any {
	return map[string]any{
		"outputs": []any{
			map[string]any{"type": "image", "url": "a.png"},
			map[string]any{"type": "text", "value": "caption"},
			map[string]any{"type": "image", "url": "b.png"},
		},
	}
}

func TestNewGoJQEngine(t *testing.T) {
	e := NewGoJQEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "jq", e.Name())
}

func TestGoJQEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*GoJQEngine)(nil)
}

func TestGoJQ_SelectImages(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `[.outputs[] | select(.type == "image") | .url]`, outputsDoc())
	require.NoError(t, err)
	assert.Equal(t, []any{"a.png", "b.png"}, out)
}

func TestGoJQ_MultipleResults(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `.outputs[] | .type`, outputsDoc())
	require.NoError(t, err)
	assert.Equal(t, []any{"image", "text", "image"}, out)
}

func TestGoJQ_EvaluateAll(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.EvaluateAll(context.Background(), `.outputs[] | select(.type == "text")`, outputsDoc())
	require.NoError(t, err)
	require.Len(t, out, 1)

	none, err := e.EvaluateAll(context.Background(), `.outputs[] | select(.type == "video")`, outputsDoc())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGoJQ_ParseError(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), `.outputs[`, outputsDoc())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGoJQ_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{"outputs": map[string]any{"a": 1.0}, "items": []any{"x"}}

	for _, selector := range []string{
		`.outputs | keys_unsorted | .[0] + 1`,
		`.items[0] + 1`,
		`.items | .[0] - 1`,
		`error("boom")`,
		`halt_error`,
		`range(2000)`,
	} {
		t.Run(selector, func(t *testing.T) {
			_, err := e.Evaluate(context.Background(), selector, data)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeExecution), "got %s", schema.ErrorCode(err))
		})
	}
}

func TestGoJQ_HaltStopsQuietly(t *testing.T) {
	out, err := NewGoJQEngine().EvaluateAll(context.Background(), `1, halt, 2`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []any{1}, out)
}

func TestGoJQ_EnvironmentIsSandboxed(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV | length`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_SelectRunOutputs(t *testing.T) {
	e := NewGoJQEngine()
	doc := SelectDoc{
		Recipe: "image-creator",
		Status: "completed",
		Outputs: []schema.OutputItem{
			schema.ImageOutput("Variant 1", "https://cdn.example.com/a.png"),
			{Type: schema.OutputText, Value: "caption"},
		},
	}

	urls, err := e.Select(context.Background(), `[.outputs[] | select(.type == "image") | .url]`, doc)
	require.NoError(t, err)
	assert.Equal(t, []any{"https://cdn.example.com/a.png"}, urls)

	vars, err := e.Select(context.Background(), `{recipe: $recipe, status: $status, n: (.outputs | length)}`, doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"recipe": "image-creator", "status": "completed", "n": 2}, vars)
}

func TestGoJQ_SelectNilOutputs(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Select(context.Background(), `.outputs | length`, SelectDoc{})
	require.NoError(t, err)
	assert.Equal(t, 0, out)

	none, err := e.Select(context.Background(), `.outputs[]`, SelectDoc{})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGoJQ_EmptySelector(t *testing.T) {
	_, err := NewGoJQEngine().Select(context.Background(), "", SelectDoc{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGoJQ_ResultCap(t *testing.T) {
	_, err := NewGoJQEngine().Evaluate(context.Background(), `range(5000)`, map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	assert.Contains(t, err.Error(), "more than 1000")
}

func TestGoJQ_CacheIsBounded(t *testing.T) {
	e := NewGoJQEngine()
	for i := 0; i < maxCachedSelectors+10; i++ {
		_, err := e.Evaluate(context.Background(), fmt.Sprintf(".n + %d", i), map[string]any{"n": 1})
		require.NoError(t, err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.LessOrEqual(t, len(e.cache), maxCachedSelectors)
}
