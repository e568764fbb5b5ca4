package providers

import (
	"context"
)

// TextRequest is a single prompt sent to a text model.
type TextRequest struct {
	Prompt      string
	System      string
	JSON        bool
	Temperature float32
	// Model overrides the client's default model when set.
	Model string
}

// TextResult is the text a model produced and what it cost.
type TextResult struct {
	Text  string
	Model string
	Cost  float64
}

// TextGenerator produces text from a prompt.
type TextGenerator interface {
	Name() string
	GenerateText(ctx context.Context, req TextRequest) (*TextResult, error)
}

// MediaRequest describes one image, video, speech or avatar generation.
type MediaRequest struct {
	Prompt      string
	Model       string
	Provider    string
	AspectRatio string
	// ImageURL is the source frame for image-to-video and avatar jobs.
	ImageURL string
	// AudioURL drives lip sync for avatar jobs.
	AudioURL string
	Voice    string
	Text     string
	Duration int
}

// MediaResult is a generated asset.
type MediaResult struct {
	URL        string
	Model      string
	Provider   string
	Cost       float64
	RetailCost float64
}

// ImageGenerator renders still images.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req MediaRequest) (*MediaResult, error)
}

// VideoGenerator renders video clips.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req MediaRequest) (*MediaResult, error)
}

// SpeechGenerator renders narration audio.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, req MediaRequest) (*MediaResult, error)
}

// AvatarGenerator renders a talking-head video from a portrait and audio.
type AvatarGenerator interface {
	GenerateAvatar(ctx context.Context, req MediaRequest) (*MediaResult, error)
}

// MediaGenerator is a client that covers every media kind.
type MediaGenerator interface {
	ImageGenerator
	VideoGenerator
	SpeechGenerator
	AvatarGenerator
}

// Suite bundles the generators a recipe may call.
type Suite struct {
	Text   TextGenerator
	Image  ImageGenerator
	Video  VideoGenerator
	Speech SpeechGenerator
	Avatar AvatarGenerator
}

// NewSuite builds a Suite whose media generators all come from media.
func NewSuite(text TextGenerator, media MediaGenerator) *Suite {
	return &Suite{Text: text, Image: media, Video: media, Speech: media, Avatar: media}
}
