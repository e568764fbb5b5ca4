package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/internal/streaming"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// TransitionHook is called after a run state transition has been persisted.
type TransitionHook func(run *store.Run, from, to schema.RunStatus)

// RunWriter is the part of the Store the FSM persists through.
type RunWriter interface {
	UpdateRun(ctx context.Context, id string, update store.RunUpdate) error
	AppendRunEvent(ctx context.Context, event *store.RunEvent) error
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:          {schema.RunStatusRunning, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusRunning:          {schema.RunStatusAwaitingApproval, schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusAwaitingApproval: {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusCompleted:        {},
	schema.RunStatusFailed:           {},
	schema.RunStatusCancelled:        {},
}

// IsValidTransition reports whether a run may move from one status to another.
func IsValidTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// RunFSM applies run status transitions. Every transition is persisted with
// a guard on the current status, so a concurrent writer that got there first
// makes it fail with CONFLICT instead of being overwritten. Each transition
// is appended to the run's event log and published on the hub.
type RunFSM struct {
	mu     sync.RWMutex
	store  RunWriter
	hub    streaming.EventHub
	logger *slog.Logger
	hooks  []TransitionHook
}

// NewRunFSM creates a run FSM. hub may be nil.
func NewRunFSM(w RunWriter, hub streaming.EventHub, logger *slog.Logger) *RunFSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunFSM{store: w, hub: hub, logger: logger}
}

// OnTransition registers a hook called after every persisted transition.
func (f *RunFSM) OnTransition(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, hook)
}

// Transition moves run from its current status to to, writing update in the
// same statement. run is updated in place on success.
func (f *RunFSM) Transition(ctx context.Context, run *store.Run, to schema.RunStatus, update store.RunUpdate) error {
	from := run.Status
	if !IsValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithRun(run.ID).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	update.Status = &to
	update.OnlyFrom = []schema.RunStatus{from}
	if err := f.store.UpdateRun(ctx, run.ID, update); err != nil {
		return err
	}
	applyUpdate(run, update)

	f.emit(ctx, run, runEventType(from, to), nil)

	f.mu.RLock()
	hooks := f.hooks
	f.mu.RUnlock()
	for _, hook := range hooks {
		hook(run, from, to)
	}
	return nil
}

// Progress records a progress report. It never changes a terminal status:
// a run that already finished makes it fail with CONFLICT. A run still
// pending or paused for approval is moved to running.
func (f *RunFSM) Progress(ctx context.Context, run *store.Run, update store.RunUpdate) error {
	if run.Status.IsTerminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run is %s", run.Status).WithRun(run.ID)
	}
	if run.Status != schema.RunStatusRunning {
		if err := f.Transition(ctx, run, schema.RunStatusRunning, update); err != nil {
			return err
		}
	} else {
		update.OnlyFrom = []schema.RunStatus{schema.RunStatusRunning}
		if err := f.store.UpdateRun(ctx, run.ID, update); err != nil {
			return err
		}
		applyUpdate(run, update)
	}
	f.emit(ctx, run, schema.EventRunProgress, nil)
	return nil
}

// Emit records an event that is not a transition of a single run, such as a
// reaper sweep.
func (f *RunFSM) Emit(ctx context.Context, run *store.Run, eventType string, extra map[string]any) {
	f.emit(ctx, run, eventType, extra)
}

func (f *RunFSM) emit(ctx context.Context, run *store.Run, eventType string, extra map[string]any) {
	if eventType == "" {
		return
	}
	payload := map[string]any{
		"status":             run.Status,
		"steps_completed":    run.StepsCompleted,
		"total_steps":        run.TotalSteps,
		"current_step_label": run.CurrentStepLabel,
	}
	if run.ErrorMessage != "" {
		payload["error"] = run.ErrorMessage
	}
	for k, v := range extra {
		payload[k] = v
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		f.logger.WarnContext(ctx, "marshal run event", "event", eventType, "error", err)
		return
	}
	// The run row is the source of truth; a lost log entry is not fatal.
	if err := f.store.AppendRunEvent(ctx, &store.RunEvent{RunID: run.ID, Type: eventType, Payload: raw}); err != nil {
		f.logger.WarnContext(ctx, "append run event", "event", eventType, "error", err)
	}
	if f.hub != nil {
		_ = f.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
			RunID:     run.ID,
			UserID:    run.UserID,
			Recipe:    run.RecipeSlug,
			EventType: eventType,
			Payload:   payload,
			Timestamp: time.Now().UTC(),
		})
	}
}

func runEventType(from, to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		if from == schema.RunStatusAwaitingApproval {
			return schema.EventRunResumed
		}
		return schema.EventRunStarted
	case schema.RunStatusAwaitingApproval:
		return schema.EventRunAwaitingApproval
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusCancelled:
		return schema.EventRunCancelled
	default:
		return ""
	}
}

// applyUpdate mirrors a persisted update onto the in-memory record.
func applyUpdate(run *store.Run, u store.RunUpdate) {
	if u.Status != nil {
		run.Status = *u.Status
	}
	if u.StepsCompleted != nil {
		run.StepsCompleted = *u.StepsCompleted
	}
	if u.CurrentStepLabel != nil {
		run.CurrentStepLabel = *u.CurrentStepLabel
	}
	if u.Inputs != nil {
		run.Inputs = u.Inputs
	}
	if u.Outputs != nil {
		run.Outputs = u.Outputs
	}
	if u.ErrorMessage != nil {
		run.ErrorMessage = *u.ErrorMessage
	}
	if u.Cost != nil {
		run.Cost = *u.Cost
	}
	if u.RetailCost != nil {
		run.RetailCost = *u.RetailCost
	}
	if u.ModelUsed != nil {
		run.ModelUsed = *u.ModelUsed
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		run.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		run.CompletedAt = &t
	}
}
