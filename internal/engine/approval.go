package engine

import (
	"context"
	"strings"

	"github.com/rendis/recipe-engine/internal/logging"
	"github.com/rendis/recipe-engine/internal/recipes"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// ApproveRequest resumes a two-phase run with the scenes the user kept.
type ApproveRequest struct {
	RunID  string         `json:"run_id" validate:"required"`
	UserID string         `json:"user_id"`
	Scenes []schema.Scene `json:"scenes"`
}

// Approve hands the edited scenes to the production phase of a run waiting
// for approval. Scenes with a blank description are dropped; when none are
// left the run is returned unchanged together with a validation error.
func (e *engineImpl) Approve(ctx context.Context, req ApproveRequest) (*store.Run, error) {
	if err := requestValidator.Struct(req); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "run id is required").WithCause(err)
	}
	run, err := e.loadOwned(ctx, req.RunID, req.UserID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, run.ID, run.RecipeSlug, run.UserID)

	if run.Status != schema.RunStatusAwaitingApproval {
		return run, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"run is %s, not awaiting approval", run.Status).WithRun(run.ID)
	}

	scenes := approvedScenes(req.Scenes)
	if len(scenes) == 0 {
		return run, schema.NewError(schema.ErrCodeValidation,
			"approve at least one scene with a description").WithRun(run.ID)
	}

	def, ok := e.registry.Get(run.RecipeSlug)
	if !ok {
		return run, schema.NewErrorf(schema.ErrCodeNotFound, "recipe %q not found", run.RecipeSlug).WithRun(run.ID)
	}

	steps := min(schema.ScriptPhaseSteps, run.TotalSteps)
	label := recipes.StepLabel(def, schema.ScriptPhaseSteps)
	if label == "" {
		label = schema.LabelResumed
	}
	update := store.RunUpdate{
		Inputs:           productionInputs(run, scenes),
		StepsCompleted:   &steps,
		CurrentStepLabel: &label,
	}
	if err := e.fsm.Transition(ctx, run, schema.RunStatusRunning, update); err != nil {
		return run, err
	}
	e.logger.InfoContext(ctx, "run approved", "scenes", len(scenes))

	if err := e.launch(ctx, def, run.ID); err != nil {
		e.failUnlaunched(ctx, run, err)
		return run, err
	}
	return run, nil
}

// approvedScenes trims the edited scenes, drops blank ones and renumbers the
// rest from zero.
func approvedScenes(in []schema.Scene) []schema.Scene {
	out := make([]schema.Scene, 0, len(in))
	for _, s := range in {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		out = append(out, schema.Scene{
			Index:       len(out),
			Description: desc,
			Motion:      strings.TrimSpace(s.Motion),
			AdCopy:      strings.TrimSpace(s.AdCopy),
		})
	}
	return out
}

// productionInputs are the original inputs plus the phase markers. The
// scenes are stored as plain maps so they read back the same from the store.
func productionInputs(run *store.Run, scenes []schema.Scene) map[string]any {
	inputs := make(map[string]any, len(run.Inputs)+3)
	for k, v := range run.Inputs {
		inputs[k] = v
	}
	approved := make([]any, 0, len(scenes))
	for _, s := range scenes {
		m := map[string]any{
			"index":             s.Index,
			"scene_description": s.Description,
		}
		if s.Motion != "" {
			m["video_motion"] = s.Motion
		}
		if s.AdCopy != "" {
			m["ad_copy"] = s.AdCopy
		}
		approved = append(approved, m)
	}
	inputs[schema.InputPhase] = schema.PhaseProduction
	inputs[schema.InputApprovedScenes] = approved
	inputs[schema.InputScriptOutputs] = run.Outputs
	return inputs
}
