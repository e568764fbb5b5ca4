package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rendis/recipe-engine/internal/logging"
	"github.com/rendis/recipe-engine/internal/recipes"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

var requestValidator = validator.New(validator.WithRequiredStructEnabled())

// SubmitRequest asks for a new run of a recipe.
type SubmitRequest struct {
	Recipe    string         `json:"recipe" validate:"required"`
	UserID    string         `json:"user_id" validate:"required"`
	BrandID   string         `json:"brand_id,omitempty"`
	PersonaID string         `json:"persona_id,omitempty"`
	Inputs    map[string]any `json:"inputs"`
	// ScheduleID links runs started by a schedule.
	ScheduleID string `json:"schedule_id,omitempty"`
}

// Submit validates the request, creates a pending run and launches it. The
// returned run is the record as created; the recipe executes in the
// background.
func (e *engineImpl) Submit(ctx context.Context, req SubmitRequest) (*store.Run, error) {
	if err := requestValidator.Struct(req); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "recipe and user are required").WithCause(err)
	}

	def, err := e.activeRecipe(ctx, req.Recipe)
	if err != nil {
		return nil, err
	}

	inputs, err := e.validator.Validate(ctx, def, req.Inputs)
	if err != nil {
		return nil, err
	}
	if err := e.checkContextOwnership(ctx, req); err != nil {
		return nil, err
	}

	steps := def.Steps()
	run := &store.Run{
		ID:               uuid.NewString(),
		RecipeSlug:       def.Meta().Slug,
		UserID:           req.UserID,
		BrandID:          req.BrandID,
		PersonaID:        req.PersonaID,
		Status:           schema.RunStatusPending,
		TotalSteps:       len(steps),
		CurrentStepLabel: recipes.StepLabel(def, 0),
		Inputs:           inputs,
		ScheduleID:       req.ScheduleID,
		CreatedAt:        e.clock(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	ctx = logging.WithIDs(ctx, run.ID, run.RecipeSlug, run.UserID)
	e.fsm.Emit(ctx, run, schema.EventRunCreated, nil)
	if err := e.store.IncrementUsage(ctx, run.RecipeSlug); err != nil {
		e.logger.WarnContext(ctx, "usage count not updated", "error", err)
	}

	if err := e.launch(ctx, def, run.ID); err != nil {
		e.failUnlaunched(ctx, run, err)
		var engErr *schema.EngineError
		if errors.As(err, &engErr) {
			return run, engErr.WithRun(run.ID)
		}
		return run, err
	}
	e.logger.InfoContext(ctx, "run submitted", "total_steps", run.TotalSteps)
	return run, nil
}

// activeRecipe resolves a slug to a recipe that accepts new runs.
func (e *engineImpl) activeRecipe(ctx context.Context, slug string) (recipes.Definition, error) {
	def, row, err := e.resolveActive(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !row.Enabled {
		return nil, schema.NewErrorf(schema.ErrCodeRecipeDisabled, "recipe %q is disabled", slug)
	}
	return def, nil
}

// checkContextOwnership rejects brand or persona ids the user does not own.
func (e *engineImpl) checkContextOwnership(ctx context.Context, req SubmitRequest) error {
	if req.BrandID != "" {
		b, err := e.store.GetBrand(ctx, req.BrandID)
		if err != nil || b.UserID != req.UserID {
			return schema.NewErrorf(schema.ErrCodeValidation, "brand %q not found", req.BrandID)
		}
	}
	if req.PersonaID != "" {
		p, err := e.store.GetPersona(ctx, req.PersonaID)
		if err != nil || p.UserID != req.UserID {
			return schema.NewErrorf(schema.ErrCodeValidation, "persona %q not found", req.PersonaID)
		}
	}
	return nil
}

// failUnlaunched marks a run failed when it never reached a worker.
func (e *engineImpl) failUnlaunched(ctx context.Context, run *store.Run, cause error) {
	msg := schema.TruncateError("The run could not be started: " + failureMessage(cause))
	now := e.clock()
	err := e.fsm.Transition(context.WithoutCancel(ctx), run, schema.RunStatusFailed, store.RunUpdate{
		ErrorMessage: &msg,
		CompletedAt:  &now,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "could not fail unlaunched run", "cause", cause, "error", err)
		return
	}
	e.logger.WarnContext(ctx, "run not launched", "error", cause)
}
