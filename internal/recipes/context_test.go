package recipes

import (
	"strings"
	"testing"

	"github.com/rendis/recipe-engine/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestBrandContext(t *testing.T) {
	assert.Empty(t, BrandContext(nil))

	b := &store.Brand{
		Name:     "Acme",
		Colors:   []string{"#111", "#222", "#333", "#444", "#555", "#666"},
		Hashtags: []string{"#acme", "#rockets"},
		NeverDo:  "Show competitors",
		BrandDoc: strings.Repeat("x", 900),
	}
	ctx := BrandContext(b)
	assert.Contains(t, ctx, "Brand: Acme")
	assert.Contains(t, ctx, "Primary: #111")
	assert.Contains(t, ctx, "Accent 2: #555")
	assert.NotContains(t, ctx, "#666")
	assert.Contains(t, ctx, "Brand Hashtags: #acme #rockets")
	assert.Contains(t, ctx, "NEVER DO: Show competitors")
	assert.Contains(t, ctx, strings.Repeat("x", 800)+"…")
	assert.NotContains(t, ctx, strings.Repeat("x", 801))
}

func TestPersonaContext(t *testing.T) {
	assert.Empty(t, PersonaContext(nil))

	keywords := make([]string, 12)
	for i := range keywords {
		keywords[i] = string(rune('a' + i))
	}
	p := &store.Persona{Name: "Sam", Tone: "warm", BrandKeywords: keywords}
	ctx := PersonaContext(p)
	assert.Contains(t, ctx, "Persona: Sam")
	assert.Contains(t, ctx, "Tone: warm")
	assert.Contains(t, ctx, "Always Use Words: a, b, c, d, e, f, g, h, i, j\n")
	assert.NotContains(t, ctx, "Bio")
}

func TestCreativeDirectives(t *testing.T) {
	assert.Contains(t, CreativeDirectives("video"), "MOTION")
	assert.NotContains(t, CreativeDirectives("image"), "MOTION")
	assert.Contains(t, CreativeDirectives("text"), "WRITING")
}

func TestPromptScope(t *testing.T) {
	scope := PromptScope(Metadata{Slug: "s", Name: "N", Category: CategoryResearch}, Request{
		Inputs: map[string]any{"a": "b"},
		Brand:  &store.Brand{Name: "Acme"},
	})
	assert.Equal(t, "Acme", scope["brand"].(map[string]any)["name"])
	assert.Equal(t, map[string]any{}, scope["persona"])
	assert.Equal(t, "research", scope["recipe"].(map[string]any)["category"])
}
