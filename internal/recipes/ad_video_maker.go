package recipes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/recipe-engine/internal/expressions"
	"github.com/rendis/recipe-engine/internal/objectstore"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// sceneConcurrency bounds how many scenes render at once.
const sceneConcurrency = 3

var videoModels = map[string]imageModel{
	"veo-3.1":   {"veo-3.1", "google", "Veo 3.1"},
	"kling-3.0": {"kling-3.0", "kie", "Kling 3.0"},
	"seedance":  {"seedance", "higgsfield", "Seedance"},
}

const adScriptTemplate = `You are an ad creative director. Write a short video ad script.

Product: ${{inputs.product_name}}
Description: ${{inputs.product_description}}
Brand: ${{brand.name}}
Number of scenes: ${{inputs.scene_count}}
Aspect ratio: ${{inputs.aspect_ratio}}

Respond with JSON: {"summary": string, "scenes": [{"scene_description": string, "video_motion": string, "ad_copy": string}]}
`

type adScript struct {
	Summary string         `json:"summary"`
	Scenes  []schema.Scene `json:"scenes"`
}

// AdVideoMaker writes a scene-by-scene ad script, pauses for approval, then
// renders every approved scene as an image and a video clip.
type AdVideoMaker struct {
	Base
	deps Deps
}

// NewAdVideoMaker creates the ad-video-maker recipe.
func NewAdVideoMaker(deps Deps) *AdVideoMaker {
	return &AdVideoMaker{deps: deps.withDefaults()}
}

func (r *AdVideoMaker) Meta() Metadata {
	return Metadata{
		Slug:             "ad-video-maker",
		Name:             "Ad Video Maker",
		ShortDescription: "Product in, scripted multi-scene video ad out. You approve the script first.",
		Description:      "Describe a product and the AI writes a scene-by-scene ad script. Edit and approve the scenes, then each one is rendered as a still and animated into a clip.",
		Icon:             "🎬",
		EstimatedCost:    "$0.30 to $2.00 per ad",
		HowToUse:         "1. Describe the product.\n2. Review and edit the scenes.\n3. Approve to render the clips.",
		Category:         CategoryVideoStudio,
		Active:           true,
		TwoPhase:         true,
	}
}

func (r *AdVideoMaker) Fields() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "product_name", Label: "Product name", Type: FieldText, Required: true},
		{Name: "product_description", Label: "What makes it great?", Type: FieldTextarea, Required: true},
		{Name: "product_image", Label: "Product photo", Type: FieldFile, Accept: "image/*",
			HelpText: "Optional. Used as the reference for every scene."},
		{Name: "scene_count", Label: "Scenes", Type: FieldNumber, Default: 3, Min: Bound(1), Max: Bound(6)},
		{Name: "aspect_ratio", Label: "Aspect ratio", Type: FieldSelect, Default: "9:16", Options: []Option{
			{Value: "9:16", Label: "Vertical (9:16)"},
			{Value: "16:9", Label: "Landscape (16:9)"},
			{Value: "1:1", Label: "Square (1:1)"},
		}},
		{Name: "video_model", Label: "Video model", Type: FieldSelect, Default: "veo-3.1", Options: []Option{
			{Value: "veo-3.1", Label: videoModels["veo-3.1"].label},
			{Value: "kling-3.0", Label: videoModels["kling-3.0"].label},
			{Value: "seedance", Label: videoModels["seedance"].label},
		}},
	}
}

func (r *AdVideoMaker) Steps() []string {
	return []string{"Analysing product", "Writing script", "Generating images", "Generating videos", "Finishing"}
}

func (r *AdVideoMaker) CostEstimate() string {
	return `(inputs.scene_count ?? 3) * (price("nano-banana-pro", "google") + (inputs.video_model == "kling-3.0" ? price("kling-3.0", "kie") : inputs.video_model == "seedance" ? price("seedance", "higgsfield") : price("veo-3.1", "google")))`
}

func (r *AdVideoMaker) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Phase() == schema.PhaseProduction {
		return r.produce(ctx, req)
	}
	return r.script(ctx, req)
}

func (r *AdVideoMaker) script(ctx context.Context, req Request) (*Result, error) {
	steps := r.Steps()
	if err := req.Report(0, steps[0]); err != nil {
		return nil, err
	}
	prompt, err := expressions.RenderTemplate(adScriptTemplate, PromptScope(r.Meta(), req))
	if err != nil {
		return nil, err
	}
	if err := req.Report(1, steps[1]); err != nil {
		return nil, err
	}
	res, err := r.deps.Providers.Text.GenerateText(ctx, providers.TextRequest{
		System: BrandContext(req.Brand) + PersonaContext(req.Persona) + CreativeDirectives("video"),
		Prompt: prompt,
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var parsed adScript
	if err := json.Unmarshal([]byte(providers.CleanJSONBlock(res.Text)), &parsed); err != nil {
		return nil, schema.NewError(schema.ErrCodeProvider, "the script model returned malformed JSON").WithCause(err)
	}
	limit := IntInput(req.Inputs, "scene_count", 3)
	var outputs []schema.OutputItem
	if parsed.Summary != "" {
		outputs = append(outputs, schema.TextOutput("Script summary", parsed.Summary))
	}
	n := 0
	for _, sc := range parsed.Scenes {
		if strings.TrimSpace(sc.Description) == "" || n == limit {
			continue
		}
		sc.Index = n
		outputs = append(outputs, schema.SceneOutput(sc))
		n++
	}
	if n == 0 {
		return nil, schema.NewError(schema.ErrCodeProvider, "the script model returned no scenes")
	}

	var spent costs
	spent.addText(res)
	out := spent.result(outputs, res.Model)
	out.Phase = schema.PhaseScript
	return out, nil
}

type sceneRender struct {
	scene    schema.Scene
	imageURL string
	videoURL string
	err      error
}

func (r *AdVideoMaker) produce(ctx context.Context, req Request) (*Result, error) {
	steps := r.Steps()
	scenes, err := ApprovedScenes(req.Inputs)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "no approved scenes to render")
	}
	video := videoModels[StringInput(req.Inputs, "video_model", "veo-3.1")]
	if video.model == "" {
		video = videoModels["veo-3.1"]
	}
	ratio := StringInput(req.Inputs, "aspect_ratio", "9:16")
	reference := StringInput(req.Inputs, "product_image", "")
	product := StringInput(req.Inputs, "product_name", "")
	colors := ""
	if req.Brand != nil && len(req.Brand.Colors) > 0 {
		colors = " Brand colours: " + strings.Join(head(req.Brand.Colors, maxColors), ", ") + "."
	}

	renders := make([]sceneRender, len(scenes))
	for i, sc := range scenes {
		renders[i].scene = sc
	}
	var (
		mu    sync.Mutex
		spent costs
	)

	if err := req.Report(2, steps[2]); err != nil {
		return nil, err
	}
	err = forEachScene(ctx, renders, func(ctx context.Context, sr *sceneRender) {
		res, err := r.deps.Providers.Image.GenerateImage(ctx, providers.MediaRequest{
			Prompt:      fmt.Sprintf("%s. Product: %s.%s", sr.scene.Description, product, colors),
			AspectRatio: ratio,
			ImageURL:    reference,
		})
		if err != nil {
			sr.err = err
			return
		}
		mu.Lock()
		spent.addMedia(res)
		mu.Unlock()
		sr.imageURL = res.URL
	})
	if err != nil {
		return nil, err
	}

	if err := req.Report(3, steps[3]); err != nil {
		return nil, err
	}
	err = forEachScene(ctx, renders, func(ctx context.Context, sr *sceneRender) {
		if sr.err != nil {
			return
		}
		res, err := r.deps.Providers.Video.GenerateVideo(ctx, providers.MediaRequest{
			Prompt:      strings.TrimSpace(sr.scene.Description + " " + sr.scene.Motion),
			Model:       video.model,
			Provider:    video.provider,
			AspectRatio: ratio,
			ImageURL:    sr.imageURL,
		})
		if err != nil {
			sr.err = err
			return
		}
		mu.Lock()
		spent.addMedia(res)
		mu.Unlock()
		sr.videoURL = res.URL
	})
	if err != nil {
		return nil, err
	}

	if err := req.Report(4, steps[4]); err != nil {
		return nil, err
	}
	var outputs []schema.OutputItem
	for _, sr := range renders {
		title := fmt.Sprintf("Scene %d", sr.scene.Index+1)
		if sr.err != nil {
			r.deps.Logger.WarnContext(ctx, "scene render failed", "scene", sr.scene.Index, "error", sr.err)
			outputs = append(outputs, schema.ErrorOutput(title+" failed", errText(sr.err)))
			continue
		}
		item := schema.VideoOutput(title, sr.videoURL)
		item.Meta = map[string]any{"image_url": sr.imageURL, "ad_copy": sr.scene.AdCopy}
		outputs = append(outputs, item)
	}
	if manifest := r.writeManifest(ctx, req.RunID, renders); manifest != nil {
		outputs = append(outputs, *manifest)
	}
	return spent.result(outputs, video.model), nil
}

// forEachScene runs fn for every scene with bounded concurrency. Scene
// failures are recorded on the scene; only cancellation aborts the batch.
func forEachScene(ctx context.Context, renders []sceneRender, fn func(context.Context, *sceneRender)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sceneConcurrency)
	for i := range renders {
		sr := &renders[i]
		g.Go(func() error {
			fn(gctx, sr)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *AdVideoMaker) writeManifest(ctx context.Context, runID string, renders []sceneRender) *schema.OutputItem {
	if r.deps.Assets == nil || runID == "" {
		return nil
	}
	type entry struct {
		Index    int    `json:"index"`
		Scene    string `json:"scene_description"`
		AdCopy   string `json:"ad_copy,omitempty"`
		ImageURL string `json:"image_url,omitempty"`
		VideoURL string `json:"video_url,omitempty"`
		Error    string `json:"error,omitempty"`
	}
	entries := make([]entry, 0, len(renders))
	for _, sr := range renders {
		e := entry{Index: sr.scene.Index, Scene: sr.scene.Description, AdCopy: sr.scene.AdCopy, ImageURL: sr.imageURL, VideoURL: sr.videoURL}
		if sr.err != nil {
			e.Error = errText(sr.err)
		}
		entries = append(entries, e)
	}
	data, err := json.MarshalIndent(map[string]any{"run_id": runID, "scenes": entries}, "", "  ")
	if err != nil {
		return nil
	}
	url, err := r.deps.Assets.Put(ctx, objectstore.RunKey(runID, "manifest.json"), bytes.NewReader(data), int64(len(data)), "application/json")
	if err != nil {
		r.deps.Logger.WarnContext(ctx, "manifest upload failed", "error", err)
		return nil
	}
	return &schema.OutputItem{Type: schema.OutputDocument, Title: "Run manifest", URL: url}
}
