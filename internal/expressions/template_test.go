package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	scope := map[string]any{
		"inputs": map[string]any{"product": "trail shoes", "count": 2},
		"brand":  map[string]any{"name": "Acme", "colors": []any{"red", "black"}},
	}

	out, err := RenderTemplate("Ad for ${{inputs.product}} by ${{ brand.name }} in ${{brand.colors}} x${{inputs.count}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "Ad for trail shoes by Acme in red, black x2", out)
}

func TestRenderTemplate_MissingFieldRendersEmpty(t *testing.T) {
	out, err := RenderTemplate("[${{persona.tone}}]", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestRenderTemplate_DottedKey(t *testing.T) {
	out, err := RenderTemplate("${{inputs.a.b}}", map[string]any{"inputs": map[string]any{"a.b": "direct"}})
	require.NoError(t, err)
	assert.Equal(t, "direct", out)
}

func TestRenderTemplate_Errors(t *testing.T) {
	for _, tmpl := range []string{
		"${{secrets.key}}",
		"${{inputs.prompt",
		"${{ }}",
		"${{inputs.${{x}}}}",
	} {
		_, err := RenderTemplate(tmpl, nil)
		assert.Error(t, err, tmpl)
	}
}

func TestRenderTemplate_NoMarkers(t *testing.T) {
	out, err := RenderTemplate("plain prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain prompt", out)
}
