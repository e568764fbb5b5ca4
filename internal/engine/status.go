package engine

import (
	"context"
	"time"

	"github.com/rendis/recipe-engine/internal/expressions"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// StatusOptions control the run view.
type StatusOptions struct {
	// UserID restricts the view to that user's runs. Empty means trusted.
	UserID string
	// Admin shows the actual provider cost instead of the retail cost.
	Admin bool
	// Select is an optional jq selector over {"outputs": [...]} with
	// $recipe and $status bound.
	Select string
}

// RunView is what a polling client renders.
type RunView struct {
	ID               string              `json:"id"`
	Recipe           string              `json:"recipe"`
	RecipeName       string              `json:"recipe_name"`
	Status           schema.RunStatus    `json:"status"`
	StepsCompleted   int                 `json:"steps_completed"`
	TotalSteps       int                 `json:"total_steps"`
	ProgressPct      int                 `json:"progress_pct"`
	CurrentStepLabel string              `json:"current_step_label"`
	Outputs          []schema.OutputItem `json:"outputs"`
	Scenes           []schema.Scene      `json:"scenes,omitempty"`
	Selected         any                 `json:"selected,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	Cost             float64             `json:"cost"`
	EstimatedCost    string              `json:"estimated_cost,omitempty"`
	ModelUsed        string              `json:"model_used,omitempty"`
	PollDone         bool                `json:"poll_done"`
	CreatedAt        time.Time           `json:"created_at"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
}

// ProgressPct is floor(100*steps/total), clamped to [0, 100].
func ProgressPct(steps, total int) int {
	if total <= 0 {
		return 0
	}
	pct := 100 * steps / total
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// Status returns the polling view of a run. It never writes.
func (e *engineImpl) Status(ctx context.Context, runID string, opts StatusOptions) (*RunView, error) {
	run, err := e.loadOwned(ctx, runID, opts.UserID)
	if err != nil {
		return nil, err
	}
	view := e.viewOf(run, opts.Admin)
	if run.Status == schema.RunStatusAwaitingApproval {
		view.Scenes = schema.ScenesFromOutputs(run.Outputs)
	}
	if opts.Select != "" {
		selected, err := e.jq.Select(ctx, opts.Select, expressions.SelectDoc{
			Recipe:  run.RecipeSlug,
			Status:  string(run.Status),
			Outputs: run.Outputs,
		})
		if err != nil {
			return nil, err
		}
		view.Selected = selected
	}
	return view, nil
}

func (e *engineImpl) viewOf(run *store.Run, admin bool) *RunView {
	view := &RunView{
		ID:               run.ID,
		Recipe:           run.RecipeSlug,
		RecipeName:       run.RecipeSlug,
		Status:           run.Status,
		StepsCompleted:   run.StepsCompleted,
		TotalSteps:       run.TotalSteps,
		ProgressPct:      ProgressPct(run.StepsCompleted, run.TotalSteps),
		CurrentStepLabel: run.CurrentStepLabel,
		Outputs:          run.Outputs,
		ErrorMessage:     run.ErrorMessage,
		Cost:             run.RetailCost,
		ModelUsed:        run.ModelUsed,
		PollDone:         run.Status.StopsPolling(),
		CreatedAt:        run.CreatedAt,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
	}
	if view.Outputs == nil {
		view.Outputs = []schema.OutputItem{}
	}
	if admin {
		view.Cost = run.Cost
	}
	if def, ok := e.registry.Get(run.RecipeSlug); ok {
		meta := def.Meta()
		view.RecipeName = meta.Name
		view.EstimatedCost = meta.EstimatedCost
	}
	return view
}
