package recipes

import (
	"context"
	"sort"
	"strings"

	"github.com/rendis/recipe-engine/internal/expressions"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// maxSpokenScript bounds the narration sent to text-to-speech.
const maxSpokenScript = 1500

const avatarScriptTemplate = `Write a spoken script of about 45 seconds for a talking-head video.
Speak in the first person, plain sentences, no stage directions.

Brief: ${{inputs.brief}}
Persona: ${{persona.name}}
`

// TalkingAvatar animates a headshot reading a script.
type TalkingAvatar struct {
	Base
	deps Deps
}

// NewTalkingAvatar creates the talking-avatar recipe.
func NewTalkingAvatar(deps Deps) *TalkingAvatar {
	return &TalkingAvatar{deps: deps.withDefaults()}
}

func (r *TalkingAvatar) Meta() Metadata {
	return Metadata{
		Slug:             "talking-avatar",
		Name:             "Talking Avatar",
		ShortDescription: "Turn a headshot and a script into a talking-head video.",
		Description:      "Upload a headshot and either paste a script or describe what to say. The AI writes the script if needed, voices it and animates the photo.",
		Icon:             "🗣️",
		EstimatedCost:    "About $0.20 per video",
		Category:         CategoryVideoStudio,
		Active:           true,
	}
}

func (r *TalkingAvatar) Fields() []FieldDescriptor {
	voices := make([]Option, 0, len(providers.Voices))
	for key := range providers.Voices {
		voices = append(voices, Option{Value: key, Label: strings.ReplaceAll(key, "_", " ")})
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].Value < voices[j].Value })
	return []FieldDescriptor{
		{Name: "headshot", Label: "Headshot", Type: FieldFile, Required: true, Accept: "image/*"},
		{Name: "script", Label: "Script", Type: FieldTextarea, HelpText: "Exactly what the avatar says."},
		{Name: "brief", Label: "Or describe what to say", Type: FieldTextarea},
		{Name: "voice", Label: "Voice", Type: FieldSelect, Default: "natural_female", Options: voices},
	}
}

func (r *TalkingAvatar) Steps() []string {
	return []string{"Writing script", "Generating voice", "Animating avatar"}
}

func (r *TalkingAvatar) Rules() []Rule {
	return []Rule{{
		Expression: `(has(inputs.script) && inputs.script != "") || (has(inputs.brief) && inputs.brief != "")`,
		Message:    "Provide either a script or a brief.",
	}}
}

func (r *TalkingAvatar) CostEstimate() string {
	return `price("gemini-tts", "gemini") + price("infinitetalk", "wavespeed")`
}

func (r *TalkingAvatar) ValidateInputs(inputs map[string]any) error {
	if len([]rune(StringInput(inputs, "script", ""))) > maxSpokenScript {
		return schema.NewErrorf(schema.ErrCodeValidation, "script must be at most %d characters", maxSpokenScript)
	}
	return nil
}

func (r *TalkingAvatar) Execute(ctx context.Context, req Request) (*Result, error) {
	steps := r.Steps()
	var spent costs

	if err := req.Report(0, steps[0]); err != nil {
		return nil, err
	}
	script := StringInput(req.Inputs, "script", "")
	model := ""
	if script == "" {
		prompt, err := expressions.RenderTemplate(avatarScriptTemplate, PromptScope(r.Meta(), req))
		if err != nil {
			return nil, err
		}
		res, err := r.deps.Providers.Text.GenerateText(ctx, providers.TextRequest{
			System: PersonaContext(req.Persona) + BrandContext(req.Brand) + CreativeDirectives("text"),
			Prompt: prompt,
		})
		if err != nil {
			return nil, err
		}
		spent.addText(res)
		script = strings.TrimSpace(res.Text)
		if runes := []rune(script); len(runes) > maxSpokenScript {
			script = string(runes[:maxSpokenScript])
		}
	}

	if err := req.Report(1, steps[1]); err != nil {
		return nil, err
	}
	audio, err := r.deps.Providers.Speech.GenerateSpeech(ctx, providers.MediaRequest{
		Text:  script,
		Voice: providers.VoiceName(StringInput(req.Inputs, "voice", "natural_female")),
	})
	if err != nil {
		return nil, err
	}
	spent.addMedia(audio)

	if err := req.Report(2, steps[2]); err != nil {
		return nil, err
	}
	outputs := []schema.OutputItem{schema.AudioOutput("Voice-over", audio.URL)}
	clip, err := r.deps.Providers.Avatar.GenerateAvatar(ctx, providers.MediaRequest{
		ImageURL: StringInput(req.Inputs, "headshot", ""),
		AudioURL: audio.URL,
		Text:     script,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		outputs = append(outputs, schema.ErrorOutput("Avatar failed", errText(err)))
	} else {
		spent.addMedia(clip)
		model = clip.Model
		outputs = append([]schema.OutputItem{schema.VideoOutput("Talking avatar", clip.URL)}, outputs...)
	}
	outputs = append(outputs, schema.TextOutput("Script", script))
	return spent.result(outputs, model), nil
}
