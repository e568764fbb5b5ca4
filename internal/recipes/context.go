package recipes

import (
	"fmt"
	"strings"

	"github.com/rendis/recipe-engine/internal/store"
)

const (
	brandDocPreview = 800
	maxColors       = 5
	maxKeywords     = 10
	maxPhrases      = 5
)

var colorLabels = []string{"Primary", "Secondary", "Tertiary", "Accent 1", "Accent 2"}

// BrandContext renders a brand as a prompt block, or "" for nil.
func BrandContext(b *store.Brand) string {
	if b == nil {
		return ""
	}
	parts := []string{"=== BRAND CONTEXT ===", "Brand: " + b.Name}
	if b.Tagline != "" {
		parts = append(parts, "Tagline: "+b.Tagline)
	}
	if len(b.Colors) > 0 {
		lines := make([]string, 0, maxColors)
		for i, c := range b.Colors {
			if i == maxColors {
				break
			}
			lines = append(lines, fmt.Sprintf("  %s: %s", colorLabels[i], c))
		}
		parts = append(parts,
			"Colour Palette:\n"+strings.Join(lines, "\n"),
			"IMPORTANT: Use these brand colours in backgrounds, accents, clothing, props, or lighting. Never replace them with random colours.",
		)
	}
	if b.Voice != "" {
		parts = append(parts, "Brand Voice: "+b.Voice)
	}
	if b.TargetAudience != "" {
		parts = append(parts, "Target Audience: "+b.TargetAudience)
	}
	if b.VisualStyle != "" {
		parts = append(parts, "Visual Style: "+b.VisualStyle)
	}
	if len(b.ContentPillars) > 0 {
		parts = append(parts, "Content Pillars: "+strings.Join(b.ContentPillars, ", "))
	}
	if len(b.Hashtags) > 0 {
		parts = append(parts, "Brand Hashtags: "+strings.Join(b.Hashtags, " "))
	}
	if b.CaptionTemplate != "" {
		parts = append(parts, "Caption Template (follow this structure):\n  "+b.CaptionTemplate)
	}
	if b.LogoPath != "" {
		parts = append(parts, "Logo: Brand logo is available. Reference it in scenes where logo placement is appropriate.")
	}
	if b.NeverDo != "" {
		parts = append(parts, "NEVER DO: "+b.NeverDo)
	}
	if b.BrandDoc != "" {
		doc := []rune(b.BrandDoc)
		preview := b.BrandDoc
		if len(doc) > brandDocPreview {
			preview = string(doc[:brandDocPreview]) + "…"
		}
		parts = append(parts, "Brand Guidelines:\n"+preview)
	}
	parts = append(parts, "=== END BRAND CONTEXT ===\n")
	return strings.Join(parts, "\n")
}

// PersonaContext renders a persona as a prompt block, or "" for nil.
func PersonaContext(p *store.Persona) string {
	if p == nil {
		return ""
	}
	parts := []string{"=== PERSONA / VOICE CONTEXT ===", "Persona: " + p.Name}
	add := func(label, v string) {
		if v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Bio / Background", p.Bio)
	add("Tone", p.Tone)
	add("Voice Style", p.VoiceStyle)
	add("Speaking To", p.TargetAudience)
	add("Industry", p.Industry)
	add("Writing Rules", p.WritingGuidelines)
	add("Example Phrases", strings.Join(head(p.SamplePhrases, maxPhrases), ", "))
	add("Always Use Words", strings.Join(head(p.BrandKeywords, maxKeywords), ", "))
	add("Never Use Words", strings.Join(head(p.AvoidWords, maxKeywords), ", "))
	add("Voice Summary", p.PromptSummary)
	parts = append(parts,
		"IMPORTANT: All captions, ad copy, and text must match this persona's tone and style.",
		"=== END PERSONA CONTEXT ===\n",
	)
	return strings.Join(parts, "\n")
}

// CreativeDirectives returns the quality rules appended to generation
// prompts. kind is "image", "video" or "text".
func CreativeDirectives(kind string) string {
	parts := []string{
		"\n=== CREATIVE QUALITY DIRECTIVES ===",
		"BRAND FIDELITY:\n- Never alter the colour or any part of the product.\n- Weave brand colours into the scene when provided.\n- Respect the brand's visual style and audience.",
		"DIVERSITY & INCLUSION:\n- Ensure diversity in gender, ethnicity, and hair colour.\n- Default age range 21-38 unless the brand says otherwise.",
		"PROMPT RULES:\n- Do not use double quotes inside image or video prompts.\n- Keep ad copy short and action-oriented (max 7 words).",
	}
	switch kind {
	case "video":
		parts = append(parts, "MOTION:\n- Describe one clear camera movement per scene.\n- Keep subjects consistent between scenes.")
	case "text":
		parts = append(parts, "WRITING:\n- Plain language, short sentences.\n- No invented statistics.")
	}
	parts = append(parts, "=== END DIRECTIVES ===\n")
	return strings.Join(parts, "\n\n")
}

// PromptScope is the data prompt templates and CEL rules see.
func PromptScope(meta Metadata, req Request) map[string]any {
	scope := map[string]any{
		"inputs":  req.Inputs,
		"recipe":  map[string]any{"slug": meta.Slug, "name": meta.Name, "category": string(meta.Category)},
		"brand":   map[string]any{},
		"persona": map[string]any{},
	}
	if req.Brand != nil {
		scope["brand"] = map[string]any{
			"name":            req.Brand.Name,
			"tagline":         req.Brand.Tagline,
			"voice":           req.Brand.Voice,
			"target_audience": req.Brand.TargetAudience,
			"visual_style":    req.Brand.VisualStyle,
			"hashtags":        toAny(req.Brand.Hashtags),
		}
	}
	if req.Persona != nil {
		scope["persona"] = map[string]any{
			"name":        req.Persona.Name,
			"tone":        req.Persona.Tone,
			"voice_style": req.Persona.VoiceStyle,
		}
	}
	return scope
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
