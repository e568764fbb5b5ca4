package validation

import (
	"context"

	"github.com/rendis/recipe-engine/internal/recipes"
)

// Validator checks submitted recipe inputs before a run is created.
// Uses JSON Schema Draft 2020-12 compiled from the recipe's field descriptors.
type Validator interface {
	// Validate normalizes inputs against def and returns the cleaned map, or
	// a VALIDATION_ERROR listing every problem found.
	Validate(ctx context.Context, def recipes.Definition, inputs map[string]any) (map[string]any, error)
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// Limits bounds free-text inputs.
type Limits struct {
	MaxText     int `yaml:"max_text" validate:"gte=0"`
	MaxTextarea int `yaml:"max_textarea" validate:"gte=0"`
}

// DefaultLimits are the length limits applied when none are configured.
var DefaultLimits = Limits{MaxText: 500, MaxTextarea: 5000}

func (l Limits) withDefaults() Limits {
	if l.MaxText <= 0 {
		l.MaxText = DefaultLimits.MaxText
	}
	if l.MaxTextarea <= 0 {
		l.MaxTextarea = DefaultLimits.MaxTextarea
	}
	return l
}
