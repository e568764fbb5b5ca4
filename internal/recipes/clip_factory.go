package recipes

import (
	"context"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// ClipFactory is a placeholder for long-video repurposing. It stays
// registered so past runs resolve, but it is hidden from new runs.
type ClipFactory struct {
	Base
}

// NewClipFactory creates the clip-factory stub.
func NewClipFactory() *ClipFactory { return &ClipFactory{} }

func (r *ClipFactory) Meta() Metadata {
	return Metadata{
		Slug:             "clip-factory",
		Name:             "Clip Factory",
		ShortDescription: "Cut a long video into short vertical clips.",
		Icon:             "✂️",
		EstimatedCost:    "Coming soon",
		Category:         CategoryRepurpose,
		Active:           false,
	}
}

func (r *ClipFactory) Fields() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "video_url", Label: "Video link", Type: FieldText, Required: true},
	}
}

func (r *ClipFactory) Steps() []string {
	return []string{"Downloading", "Finding highlights", "Cutting clips"}
}

func (r *ClipFactory) Execute(context.Context, Request) (*Result, error) {
	return nil, schema.NewError(schema.ErrCodeRecipeDisabled, "Clip Factory is not available yet")
}
