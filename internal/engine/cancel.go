package engine

import (
	"context"

	"github.com/rendis/recipe-engine/internal/logging"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// Cancel moves a run that has not finished to cancelled and interrupts its
// worker, if one holds it. The recipe notices on its next progress report or
// provider call; whatever it returns afterwards is discarded.
func (e *engineImpl) Cancel(ctx context.Context, runID, userID string) (*store.Run, error) {
	run, err := e.loadOwned(ctx, runID, userID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, run.ID, run.RecipeSlug, run.UserID)

	if run.Status.IsTerminal() {
		return run, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"run is already %s", run.Status).WithRun(run.ID)
	}

	now := e.clock()
	label := schema.LabelCancelled
	err = e.fsm.Transition(ctx, run, schema.RunStatusCancelled, store.RunUpdate{
		CurrentStepLabel: &label,
		CompletedAt:      &now,
	})
	if err != nil {
		return run, err
	}
	interrupted := e.interrupt(run.ID)
	e.logger.InfoContext(ctx, "run cancelled", "interrupted", interrupted)
	return run, nil
}
