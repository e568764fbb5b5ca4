package providers

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// simulatedScript is returned for JSON prompts when no responder is set.
const simulatedScript = `{
  "summary": "Simulated script",
  "scenes": [
    {"scene_description": "Product hero shot on a clean background", "video_motion": "slow push in", "ad_copy": "Meet the new favourite."},
    {"scene_description": "Customer using the product outdoors", "video_motion": "handheld pan", "ad_copy": "Made for every day."},
    {"scene_description": "Logo lockup with call to action", "video_motion": "static", "ad_copy": "Try it today."}
  ]
}`

// Simulated implements every generator without network access. It is the
// default backend in development and the backend used by tests.
type Simulated struct {
	// Delay is slept before every call, honouring cancellation.
	Delay time.Duration
	// FailKinds makes calls of the listed kinds fail ("text", "image", ...).
	FailKinds map[string]bool
	// Responder overrides the text returned for a prompt.
	Responder func(req TextRequest) string

	mu    sync.Mutex
	calls map[string]int
}

// NewSimulated creates a simulated provider.
func NewSimulated() *Simulated {
	return &Simulated{calls: make(map[string]int)}
}

// Name returns the provider name.
func (s *Simulated) Name() string { return "simulated" }

// Calls returns how many calls of kind were made.
func (s *Simulated) Calls(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func (s *Simulated) begin(ctx context.Context, kind string) error {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[kind]++
	s.mu.Unlock()

	if err := sleep(ctx, s.Delay); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailKinds[kind] {
		return schema.NewErrorf(schema.ErrCodeProvider, "simulated %s generation failed", kind)
	}
	return nil
}

// GenerateText echoes a summary of the prompt, or the canned script for JSON requests.
func (s *Simulated) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	if err := s.begin(ctx, "text"); err != nil {
		return nil, err
	}
	var text string
	switch {
	case s.Responder != nil:
		text = s.Responder(req)
	case req.JSON:
		text = simulatedScript
	default:
		prompt := strings.TrimSpace(req.Prompt)
		if len(prompt) > 200 {
			prompt = prompt[:200]
		}
		text = "Simulated response: " + prompt
	}
	return &TextResult{Text: text, Model: "simulated-text"}, nil
}

// GenerateImage returns a deterministic placeholder image URL.
func (s *Simulated) GenerateImage(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	return s.media(ctx, TaskImage, "png", req, DefaultImageModel, DefaultImageProvider)
}

// GenerateVideo returns a deterministic placeholder video URL.
func (s *Simulated) GenerateVideo(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	return s.media(ctx, TaskVideo, "mp4", req, DefaultVideoModel, DefaultVideoProvider)
}

// GenerateSpeech returns a deterministic placeholder audio URL.
func (s *Simulated) GenerateSpeech(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	return s.media(ctx, TaskSpeech, "wav", req, "gemini-tts", "gemini")
}

// GenerateAvatar returns a deterministic placeholder video URL.
func (s *Simulated) GenerateAvatar(ctx context.Context, req MediaRequest) (*MediaResult, error) {
	return s.media(ctx, TaskAvatar, "mp4", req, "infinitetalk", "wavespeed")
}

func (s *Simulated) media(ctx context.Context, kind, ext string, req MediaRequest, model, provider string) (*MediaResult, error) {
	if err := s.begin(ctx, kind); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model, req.Provider = model, provider
	}
	sum := sha1.Sum([]byte(kind + "|" + req.Model + "|" + req.Prompt + "|" + req.ImageURL + "|" + req.Text))
	return &MediaResult{
		URL:        fmt.Sprintf("https://assets.example.invalid/simulated/%s/%s.%s", kind, hex.EncodeToString(sum[:8]), ext),
		Model:      req.Model,
		Provider:   req.Provider,
		Cost:       ActualCost(req.Model, req.Provider),
		RetailCost: RetailCost(req.Model, req.Provider),
	}, nil
}

var (
	_ TextGenerator  = (*Simulated)(nil)
	_ MediaGenerator = (*Simulated)(nil)
)
