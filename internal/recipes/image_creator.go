package recipes

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/recipe-engine/internal/expressions"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/pkg/schema"
)

type imageModel struct {
	model    string
	provider string
	label    string
}

var imageModels = map[string]imageModel{
	"nanobanana":    {"nano-banana-pro", "google", "Nano Banana Pro"},
	"gpt-image-1.5": {"gpt-image-1.5", "wavespeed", "GPT Image 1.5"},
}

type stylePreset struct {
	label    string
	fragment string
}

var stylePresets = map[string]stylePreset{
	"none":           {"None, I'll describe everything", ""},
	"product_shot":   {"Product Shot", "Professional product photography on a clean, neutral background. Studio lighting with soft shadows. Sharp focus on the product."},
	"social_graphic": {"Social Media Graphic", "Eye-catching social media visual with bold composition, vibrant colours and a clear focal point."},
	"lifestyle":      {"Lifestyle Scene", "Lifestyle photography showing the subject in a natural, real-world setting. Warm, authentic feel with natural lighting."},
	"flat_lay":       {"Flat Lay", "Top-down flat lay composition on a styled surface, arranged with complementary props."},
	"abstract":       {"Abstract / Artistic", "Abstract, artistic visual with creative use of colour, texture and form."},
}

var stylePresetOrder = []string{"none", "product_shot", "social_graphic", "lifestyle", "flat_lay", "abstract"}

const imagePromptTemplate = `Write one detailed image-generation prompt for the request below.
Return only the prompt.

Request: ${{inputs.prompt}}
Style: ${{inputs.style_fragment}}
Aspect ratio: ${{inputs.aspect_ratio}}
Avoid: ${{inputs.negative_prompt}}
`

// ImageCreator turns a plain-language description into one or more images.
type ImageCreator struct {
	Base
	deps Deps
}

// NewImageCreator creates the image-creator recipe.
func NewImageCreator(deps Deps) *ImageCreator {
	return &ImageCreator{deps: deps.withDefaults()}
}

func (r *ImageCreator) Meta() Metadata {
	return Metadata{
		Slug:             "image-creator",
		Name:             "Image Creator",
		ShortDescription: "Describe what you need; the AI writes the image prompt and generates it.",
		Description:      "Describe the image in plain English and pick a style. The AI writes a detailed prompt that includes your brand colours and visual style, then generates the images.",
		Icon:             "🖼️",
		EstimatedCost:    "Free to $0.13 per image",
		HowToUse:         "1. Describe the image.\n2. Pick a style preset, aspect ratio and number of images.\n3. Run it and download the results.",
		Category:         CategoryContentCreation,
		Active:           true,
	}
}

func (r *ImageCreator) Fields() []FieldDescriptor {
	styles := make([]Option, 0, len(stylePresetOrder))
	for _, key := range stylePresetOrder {
		styles = append(styles, Option{Value: key, Label: stylePresets[key].label})
	}
	return []FieldDescriptor{
		{Name: "prompt", Label: "What do you want to see?", Type: FieldTextarea, Required: true,
			Placeholder: "A coffee cup on a marble counter at sunrise"},
		{Name: "style", Label: "Style preset", Type: FieldSelect, Default: "none", Options: styles},
		{Name: "aspect_ratio", Label: "Aspect ratio", Type: FieldSelect, Default: "1:1", Options: []Option{
			{Value: "1:1", Label: "Square (1:1)"},
			{Value: "9:16", Label: "Portrait (9:16)"},
			{Value: "16:9", Label: "Landscape (16:9)"},
			{Value: "4:5", Label: "Feed (4:5)"},
			{Value: "3:4", Label: "Portrait (3:4)"},
		}},
		{Name: "count", Label: "Number of images", Type: FieldSelect, Default: "1", Options: []Option{
			{Value: "1", Label: "1"}, {Value: "2", Label: "2"}, {Value: "4", Label: "4"},
		}},
		{Name: "model", Label: "Model", Type: FieldSelect, Default: "nanobanana", Options: []Option{
			{Value: "nanobanana", Label: imageModels["nanobanana"].label},
			{Value: "gpt-image-1.5", Label: imageModels["gpt-image-1.5"].label},
		}},
		{Name: "negative_prompt", Label: "Things to avoid", Type: FieldText},
		{Name: "assisted", Label: "Let the AI write the prompt", Type: FieldCheckbox, Default: true},
	}
}

func (r *ImageCreator) Steps() []string {
	return []string{"Preparing prompt", "Generating images", "Saving results"}
}

func (r *ImageCreator) CostEstimate() string {
	return `int(inputs.count ?? 1) * (inputs.model == "gpt-image-1.5" ? price("gpt-image-1.5", "wavespeed") : price("nano-banana-pro", "google"))`
}

func (r *ImageCreator) ValidateInputs(inputs map[string]any) error {
	if _, ok := imageModels[StringInput(inputs, "model", "nanobanana")]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "unknown image model")
	}
	if StringInput(inputs, "style", "none") == "none" && len([]rune(StringInput(inputs, "prompt", ""))) < 10 {
		return schema.NewError(schema.ErrCodeValidation, "describe the image in at least 10 characters or pick a style preset")
	}
	return nil
}

func (r *ImageCreator) Execute(ctx context.Context, req Request) (*Result, error) {
	steps := r.Steps()
	if err := req.Report(0, steps[0]); err != nil {
		return nil, err
	}

	choice := imageModels[StringInput(req.Inputs, "model", "nanobanana")]
	if choice.model == "" {
		choice = imageModels["nanobanana"]
	}
	count := IntInput(req.Inputs, "count", 1)
	ratio := StringInput(req.Inputs, "aspect_ratio", "1:1")

	var spent costs
	prompt, err := r.buildPrompt(ctx, req, &spent)
	if err != nil {
		return nil, err
	}

	if err := req.Report(1, steps[1]); err != nil {
		return nil, err
	}
	var outputs []schema.OutputItem
	for i := 0; i < count; i++ {
		res, err := r.deps.Providers.Image.GenerateImage(ctx, providers.MediaRequest{
			Prompt:      prompt,
			Model:       choice.model,
			Provider:    choice.provider,
			AspectRatio: ratio,
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		title := fmt.Sprintf("Image %d", i+1)
		if err != nil {
			r.deps.Logger.WarnContext(ctx, "image generation failed", "index", i, "error", err)
			outputs = append(outputs, schema.ErrorOutput(title+" failed", errText(err)))
			continue
		}
		spent.addMedia(res)
		outputs = append(outputs, schema.ImageOutput(title, res.URL))
	}

	if err := req.Report(2, steps[2]); err != nil {
		return nil, err
	}
	outputs = append(outputs, schema.TextOutput("Prompt used", prompt))
	return spent.result(outputs, choice.model), nil
}

// buildPrompt either asks the text model to write the prompt or assembles
// it directly from the inputs.
func (r *ImageCreator) buildPrompt(ctx context.Context, req Request, spent *costs) (string, error) {
	style := stylePresets[StringInput(req.Inputs, "style", "none")]
	scope := PromptScope(r.Meta(), req)
	inputs := make(map[string]any, len(req.Inputs)+1)
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	inputs["style_fragment"] = style.fragment
	scope["inputs"] = inputs

	brandBlock := BrandContext(req.Brand)
	if !BoolInput(req.Inputs, "assisted", true) || r.deps.Providers.Text == nil {
		parts := []string{StringInput(req.Inputs, "prompt", "")}
		if style.fragment != "" {
			parts = append(parts, style.fragment)
		}
		if neg := StringInput(req.Inputs, "negative_prompt", ""); neg != "" {
			parts = append(parts, "Avoid: "+neg)
		}
		if req.Brand != nil && len(req.Brand.Colors) > 0 {
			parts = append(parts, "Use the brand colours "+strings.Join(head(req.Brand.Colors, maxColors), ", ")+".")
		}
		return strings.Join(parts, " "), nil
	}

	body, err := expressions.RenderTemplate(imagePromptTemplate, scope)
	if err != nil {
		return "", err
	}
	res, err := r.deps.Providers.Text.GenerateText(ctx, providers.TextRequest{
		System: brandBlock + CreativeDirectives("image"),
		Prompt: body,
	})
	if err != nil {
		return "", err
	}
	spent.addText(res)
	return strings.TrimSpace(res.Text), nil
}
