package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/recipe-engine/internal/logging"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// ReapMessage is the error written on a reaped run.
func ReapMessage(maxAge time.Duration) string {
	return fmt.Sprintf("Run timed out after %d minutes without finishing. "+
		"The worker may have crashed or a provider call hung.", int(maxAge.Minutes()))
}

// Reap fails every running run whose start (or creation, when it never
// started) is older than maxAge. Runs in any other status are never touched.
func (e *engineImpl) Reap(ctx context.Context, maxAge time.Duration) ([]*store.Run, error) {
	if maxAge <= 0 {
		maxAge = e.config.RunTimeout
	}
	now := e.clock()
	reaped, err := e.store.ReapRuns(ctx, now.Add(-maxAge), ReapMessage(maxAge), now)
	if err != nil {
		return nil, fmt.Errorf("reap runs: %w", err)
	}

	for _, run := range reaped {
		rctx := logging.WithIDs(ctx, run.ID, run.RecipeSlug, run.UserID)
		e.logger.WarnContext(rctx, "reaped stuck run", "age", runAge(run, now).Round(time.Second), "max_age", maxAge)
		e.fsm.Emit(rctx, run, schema.EventRunReaped, map[string]any{"max_age_minutes": int(maxAge.Minutes())})
		e.interrupt(run.ID)
		if e.recorder != nil {
			e.recorder.RunFinished(run.RecipeSlug, schema.RunStatusFailed, e.elapsed(run))
		}
	}
	if e.recorder != nil && len(reaped) > 0 {
		e.recorder.RunsReaped(len(reaped))
	}
	return reaped, nil
}

// reapQuietly runs a sweep on a read path. A failed sweep never fails the read.
func (e *engineImpl) reapQuietly(ctx context.Context) {
	if _, err := e.Reap(ctx, 0); err != nil {
		e.logger.WarnContext(ctx, "reaper sweep failed", "error", err)
	}
}
