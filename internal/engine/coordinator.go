package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rendis/recipe-engine/internal/logging"
	"github.com/rendis/recipe-engine/internal/recipes"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// launch enqueues one execution of a run. It returns once the run is queued;
// the recipe executes on a pool worker with a context detached from ctx.
func (e *engineImpl) launch(ctx context.Context, def recipes.Definition, runID string) error {
	runCtx, cancel := context.WithCancel(context.Background())
	h := e.track(runID, cancel)

	submitCtx, stop := context.WithTimeout(ctx, e.config.SubmitTimeout)
	defer stop()

	err := e.pool.Submit(submitCtx, func(context.Context) error {
		defer e.untrack(runID, h)
		defer cancel()
		return e.execute(runCtx, def, runID)
	})
	if err != nil {
		e.untrack(runID, h)
		cancel()
		if errors.Is(err, ErrPoolShutdown) {
			return schema.NewError(schema.ErrCodeQueueFull, "engine is shutting down").WithCause(err).WithRun(runID)
		}
		return err
	}
	return nil
}

// execute runs one launch of a run and reconciles the outcome into the run
// record. Nothing escapes it: every failure ends up on the record or in the
// log.
func (e *engineImpl) execute(ctx context.Context, def recipes.Definition, runID string) (err error) {
	meta := def.Meta()
	ctx = logging.WithIDs(ctx, runID, meta.Slug, "")

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "run worker panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			e.recordFailure(ctx, runID, fmt.Errorf("internal error: %v", r))
			err = fmt.Errorf("run %s: worker panicked: %v", runID, r)
		}
	}()

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			e.logger.InfoContext(ctx, "run vanished before it started")
			return nil
		}
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	ctx = logging.WithUserID(ctx, run.UserID)
	if run.Status.IsTerminal() {
		e.logger.InfoContext(ctx, "run finished before it started", "status", run.Status)
		return nil
	}

	if run.Status != schema.RunStatusRunning || run.StartedAt == nil {
		var update store.RunUpdate
		if run.StartedAt == nil {
			now := e.clock()
			update.StartedAt = &now
		}
		if run.Status == schema.RunStatusRunning {
			update.OnlyFrom = []schema.RunStatus{schema.RunStatusRunning}
			err = e.store.UpdateRun(ctx, run.ID, update)
			applyUpdate(run, update)
		} else {
			err = e.fsm.Transition(ctx, run, schema.RunStatusRunning, update)
		}
		if err != nil {
			if schema.IsCode(err, schema.ErrCodeConflict) {
				e.logger.InfoContext(ctx, "run changed state before it started")
				return nil
			}
			return fmt.Errorf("start run %s: %w", runID, err)
		}
	}
	ctx = logging.WithPhase(ctx, recipes.StringInput(run.Inputs, schema.InputPhase, ""))
	e.logger.InfoContext(ctx, "run started")

	brand, persona := e.resolveContext(ctx, run)
	req := recipes.Request{
		RunID:    run.ID,
		UserID:   run.UserID,
		Inputs:   run.Inputs,
		Progress: e.progressFunc(ctx, run.ID, run.TotalSteps),
		Brand:    brand,
		Persona:  persona,
	}

	result, execErr := invoke(ctx, def, req)
	if execErr != nil {
		e.recordFailure(ctx, runID, execErr)
		return execErr
	}
	return e.recordResult(ctx, runID, result)
}

// invoke calls Execute, turning a panic into an error.
func invoke(ctx context.Context, def recipes.Definition, req recipes.Request) (result *recipes.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "recipe panicked: %v", r)
		}
	}()
	return def.Execute(ctx, req)
}

// progressFunc builds the callback handed to Execute. Each call rereads the
// record, so it never overwrites a state another writer moved the run to.
func (e *engineImpl) progressFunc(ctx context.Context, runID string, total int) recipes.ProgressFunc {
	return func(step int, label string) error {
		if err := ctx.Err(); err != nil {
			return schema.NewError(schema.ErrCodeCancelled, "run was cancelled").WithRun(runID).WithCause(err)
		}
		run, err := e.store.GetRun(ctx, runID)
		if err != nil {
			if schema.IsCode(err, schema.ErrCodeNotFound) {
				return schema.NewError(schema.ErrCodeCancelled, "run no longer exists").WithRun(runID)
			}
			e.logger.WarnContext(ctx, "progress read failed", "step", step, "error", err)
			return nil
		}
		if run.Status.IsTerminal() {
			if run.Status == schema.RunStatusCancelled {
				return schema.NewError(schema.ErrCodeCancelled, "run was cancelled").WithRun(runID)
			}
			return nil
		}

		steps := clampSteps(step, run.StepsCompleted, total)
		update := store.RunUpdate{StepsCompleted: &steps, CurrentStepLabel: &label}
		if run.StartedAt == nil {
			now := e.clock()
			update.StartedAt = &now
		}
		if err := e.fsm.Progress(ctx, run, update); err != nil {
			if schema.IsCode(err, schema.ErrCodeConflict) {
				return e.progressConflict(ctx, runID)
			}
			e.logger.WarnContext(ctx, "progress write failed", "step", step, "error", err)
		}
		return nil
	}
}

// progressConflict decides what a lost progress write means for the recipe.
func (e *engineImpl) progressConflict(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err == nil && run.Status == schema.RunStatusCancelled {
		return schema.NewError(schema.ErrCodeCancelled, "run was cancelled").WithRun(runID)
	}
	return nil
}

// clampSteps keeps steps_completed within [current, total].
func clampSteps(step, current, total int) int {
	if step < current {
		step = current
	}
	if step > total {
		step = total
	}
	if step < 0 {
		step = 0
	}
	return step
}

// recordResult applies a recipe result to the run.
func (e *engineImpl) recordResult(ctx context.Context, runID string, result *recipes.Result) error {
	if result == nil {
		result = &recipes.Result{}
	}
	wctx := context.WithoutCancel(ctx)

	run, err := e.store.GetRun(wctx, runID)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			e.logger.InfoContext(ctx, "run vanished before its result was saved")
			return nil
		}
		return fmt.Errorf("reload run %s: %w", runID, err)
	}
	if run.Status.IsTerminal() {
		e.logger.InfoContext(ctx, "result discarded, run already finished", "status", run.Status)
		return nil
	}

	cost := run.Cost + result.Cost
	retail := run.RetailCost + result.Retail()
	model := result.ModelUsed
	outputs := result.Outputs
	if outputs == nil {
		outputs = []schema.OutputItem{}
	}
	update := store.RunUpdate{
		Outputs:    outputs,
		Cost:       &cost,
		RetailCost: &retail,
	}
	if model != "" {
		update.ModelUsed = &model
	}

	var to schema.RunStatus
	if result.Phase == schema.PhaseScript {
		if len(result.Outputs) == 0 {
			return e.writeFailure(wctx, run, "The script step produced nothing to review.")
		}
		to = schema.RunStatusAwaitingApproval
		steps := min(schema.ScriptPhaseSteps, run.TotalSteps)
		label := schema.LabelAwaitingApproval
		update.StepsCompleted = &steps
		update.CurrentStepLabel = &label
	} else {
		steps := run.TotalSteps
		now := e.clock()
		update.StepsCompleted = &steps
		update.CompletedAt = &now
		if c := schema.ClassifyOutputs(result.Outputs); c.Failed {
			to = schema.RunStatusFailed
			update.ErrorMessage = &c.Message
		} else {
			to = schema.RunStatusCompleted
			label := schema.LabelDone
			update.CurrentStepLabel = &label
		}
	}

	if err := e.fsm.Transition(wctx, run, to, update); err != nil {
		if schema.IsCode(err, schema.ErrCodeConflict) {
			e.logger.InfoContext(ctx, "result discarded, run changed state", "error", err)
			return nil
		}
		// Last resort: leave a failure on the record rather than strand it.
		e.logger.ErrorContext(ctx, "saving run result failed", "error", err)
		e.recordFailure(ctx, runID, fmt.Errorf("saving result: %w", err))
		return err
	}
	e.logger.InfoContext(ctx, "run finished",
		"status", to,
		"outputs", len(result.Outputs),
		"cost", cost,
		"model", model,
	)
	return nil
}

// recordFailure marks the run failed with err's message. It never returns
// an error: a failure to persist the failure is only logged.
func (e *engineImpl) recordFailure(ctx context.Context, runID string, cause error) {
	wctx := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "recording run failure panicked", "panic", fmt.Sprint(r))
		}
	}()

	run, err := e.store.GetRun(wctx, runID)
	if err != nil {
		e.logger.ErrorContext(ctx, "could not reload failed run", "cause", cause, "error", err)
		return
	}
	if run.Status.IsTerminal() {
		e.logger.InfoContext(ctx, "run already finished, failure not recorded", "status", run.Status, "cause", cause)
		return
	}
	if err := e.writeFailure(wctx, run, failureMessage(cause)); err != nil {
		e.logger.ErrorContext(ctx, "could not record run failure", "cause", cause, "error", err)
	}
}

func (e *engineImpl) writeFailure(ctx context.Context, run *store.Run, message string) error {
	msg := schema.TruncateError(message)
	now := e.clock()
	err := e.fsm.Transition(ctx, run, schema.RunStatusFailed, store.RunUpdate{
		ErrorMessage: &msg,
		CompletedAt:  &now,
	})
	if err != nil {
		return err
	}
	e.logger.WarnContext(ctx, "run failed", "error", msg)
	return nil
}

// failureMessage is the user-facing text for an execution error.
func failureMessage(err error) string {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The recipe timed out waiting for a provider."
	}
	return err.Error()
}

// resolveContext loads the brand and persona a run references. Missing or
// foreign records resolve to nil.
func (e *engineImpl) resolveContext(ctx context.Context, run *store.Run) (*store.Brand, *store.Persona) {
	var brand *store.Brand
	var persona *store.Persona
	if run.BrandID != "" {
		b, err := e.store.GetBrand(ctx, run.BrandID)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "brand not loaded", "brand_id", run.BrandID, "error", err)
		case b.UserID == run.UserID:
			brand = b
		}
	}
	if run.PersonaID != "" {
		p, err := e.store.GetPersona(ctx, run.PersonaID)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "persona not loaded", "persona_id", run.PersonaID, "error", err)
		case p.UserID == run.UserID:
			persona = p
		}
	}
	return brand, persona
}
