// Package recipes defines the recipe contract, the registry that indexes
// recipes by slug, and the built-in recipes.
package recipes

import (
	"context"

	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// Category groups recipes in the library.
type Category string

const (
	CategoryContentCreation Category = "content_creation"
	CategoryVideoStudio     Category = "video_studio"
	CategoryRepurpose       Category = "repurpose"
	CategoryResearch        Category = "research"
	CategoryDistribution    Category = "distribution"
)

// Metadata describes a recipe for listings and the catalog.
type Metadata struct {
	Slug             string   `json:"slug"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	ShortDescription string   `json:"short_description,omitempty"`
	Icon             string   `json:"icon,omitempty"`
	EstimatedCost    string   `json:"estimated_cost,omitempty"`
	HowToUse         string   `json:"how_to_use,omitempty"`
	Category         Category `json:"category"`
	// Active is false for stubs: resolvable for history, hidden for new runs.
	Active bool `json:"active"`
	// TwoPhase recipes pause for approval after their script phase.
	TwoPhase bool `json:"two_phase,omitempty"`
}

// ProgressFunc reports that step steps are done and label is in progress.
// A non-nil error means the run was cancelled and execution should stop.
type ProgressFunc func(step int, label string) error

// Request is everything Execute receives for one run.
type Request struct {
	RunID    string
	UserID   string
	Inputs   map[string]any
	Progress ProgressFunc
	Brand    *store.Brand
	Persona  *store.Persona
}

// Report calls the progress callback if one is set.
func (r Request) Report(step int, label string) error {
	if r.Progress == nil {
		return nil
	}
	return r.Progress(step, label)
}

// Phase returns the phase marker the approval gate placed in the inputs.
func (r Request) Phase() string {
	return StringInput(r.Inputs, schema.InputPhase, "")
}

// Result is what a recipe hands back to the coordinator.
type Result struct {
	// Phase is schema.PhaseScript when the run should pause for approval.
	Phase   string              `json:"phase,omitempty"`
	Outputs []schema.OutputItem `json:"outputs"`
	Cost    float64             `json:"cost"`
	// RetailCost defaults to Cost when nil.
	RetailCost *float64 `json:"retail_cost,omitempty"`
	ModelUsed  string   `json:"model_used,omitempty"`
}

// Retail returns the user-facing cost.
func (r *Result) Retail() float64 {
	if r.RetailCost != nil {
		return *r.RetailCost
	}
	return r.Cost
}

// Definition is one recipe.
type Definition interface {
	Meta() Metadata
	Fields() []FieldDescriptor
	// Steps are the progress labels, in order.
	Steps() []string
	// Rules are CEL cross-field conditions checked before a run is created.
	Rules() []Rule
	// CostEstimate is an expr formula over the inputs and price(), or "".
	CostEstimate() string
	// ValidateInputs enforces rules that cannot be expressed declaratively.
	ValidateInputs(inputs map[string]any) error
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Base provides the optional parts of Definition.
type Base struct{}

// Rules returns no rules.
func (Base) Rules() []Rule { return nil }

// CostEstimate returns no formula.
func (Base) CostEstimate() string { return "" }

// ValidateInputs accepts every input set.
func (Base) ValidateInputs(map[string]any) error { return nil }

// StepLabel returns steps[i], or "" when i is out of range.
func StepLabel(def Definition, i int) string {
	steps := def.Steps()
	if i < 0 || i >= len(steps) {
		return ""
	}
	return steps[i]
}
