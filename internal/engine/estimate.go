package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/rendis/recipe-engine/internal/validation"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// CostEstimate is the expected retail cost of a run.
type CostEstimate struct {
	Recipe  string  `json:"recipe"`
	Formula string  `json:"formula,omitempty"`
	Amount  float64 `json:"amount"`
	// Label is the recipe's human-readable cost hint.
	Label string `json:"label,omitempty"`
	// Known is false when the recipe has no formula.
	Known bool `json:"known"`
}

// EstimateCost evaluates the recipe's expr cost formula over the normalized
// inputs. The formula can call price(model, provider).
func (e *engineImpl) EstimateCost(ctx context.Context, slug string, inputs map[string]any) (*CostEstimate, error) {
	def, ok := e.registry.Get(slug)
	if !ok || !def.Meta().Active {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "recipe %q not found", slug)
	}
	est := &CostEstimate{
		Recipe:  slug,
		Formula: def.CostEstimate(),
		Label:   def.Meta().EstimatedCost,
	}
	if est.Formula == "" {
		return est, nil
	}

	normalized, _ := validation.Normalize(def.Fields(), inputs)
	amount, err := e.exprs.Cost(ctx, est.Formula, normalized)
	if err != nil {
		return nil, fmt.Errorf("estimate %s: %w", slug, err)
	}
	est.Amount = math.Round(amount*10000) / 10000
	est.Known = true
	return est, nil
}
