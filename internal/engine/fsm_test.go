package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/internal/streaming"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// recordingWriter is an in-memory RunWriter enforcing the OnlyFrom guard.
type recordingWriter struct {
	mu        sync.Mutex
	status    map[string]schema.RunStatus
	updates   []store.RunUpdate
	events    []*store.RunEvent
	appendErr error
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{status: make(map[string]schema.RunStatus)}
}

func (w *recordingWriter) UpdateRun(_ context.Context, id string, u store.RunUpdate) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	current, ok := w.status[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if len(u.OnlyFrom) > 0 {
		allowed := false
		for _, s := range u.OnlyFrom {
			if s == current {
				allowed = true
			}
		}
		if !allowed {
			return schema.NewErrorf(schema.ErrCodeConflict, "run is %s", current)
		}
	}
	if u.Status != nil {
		w.status[id] = *u.Status
	}
	w.updates = append(w.updates, u)
	return nil
}

func (w *recordingWriter) AppendRunEvent(_ context.Context, e *store.RunEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.appendErr != nil {
		return w.appendErr
	}
	w.events = append(w.events, e)
	return nil
}

func (w *recordingWriter) eventTypes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	types := make([]string, len(w.events))
	for i, e := range w.events {
		types[i] = e.Type
	}
	return types
}

func (w *recordingWriter) seed(id string, status schema.RunStatus) *store.Run {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status[id] = status
	return &store.Run{ID: id, RecipeSlug: "image-creator", UserID: "user-1", Status: status, TotalSteps: 3}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to schema.RunStatus
		want     bool
	}{
		{schema.RunStatusPending, schema.RunStatusRunning, true},
		{schema.RunStatusPending, schema.RunStatusFailed, true},
		{schema.RunStatusPending, schema.RunStatusCancelled, true},
		{schema.RunStatusPending, schema.RunStatusCompleted, false},
		{schema.RunStatusRunning, schema.RunStatusAwaitingApproval, true},
		{schema.RunStatusRunning, schema.RunStatusCompleted, true},
		{schema.RunStatusRunning, schema.RunStatusPending, false},
		{schema.RunStatusAwaitingApproval, schema.RunStatusRunning, true},
		{schema.RunStatusAwaitingApproval, schema.RunStatusCancelled, true},
		{schema.RunStatusAwaitingApproval, schema.RunStatusCompleted, false},
		{schema.RunStatusAwaitingApproval, schema.RunStatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestIsValidTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, from := range []schema.RunStatus{schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled} {
		for _, to := range schema.AllRunStatuses {
			assert.False(t, IsValidTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRunFSM_TransitionPersistsAndEmits(t *testing.T) {
	w := newRecordingWriter()
	fsm := NewRunFSM(w, nil, nil)
	ctx := context.Background()
	run := w.seed("run-1", schema.RunStatusPending)

	now := time.Now().UTC()
	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusRunning, store.RunUpdate{StartedAt: &now}))
	assert.Equal(t, schema.RunStatusRunning, run.Status)
	require.NotNil(t, run.StartedAt)

	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusAwaitingApproval, store.RunUpdate{}))
	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusRunning, store.RunUpdate{}))
	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusCompleted, store.RunUpdate{}))

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventRunAwaitingApproval,
		schema.EventRunResumed,
		schema.EventRunCompleted,
	}, w.eventTypes())

	// Every write carries a guard on the status it moved from.
	require.Len(t, w.updates, 4)
	assert.Equal(t, []schema.RunStatus{schema.RunStatusPending}, w.updates[0].OnlyFrom)
	assert.Equal(t, []schema.RunStatus{schema.RunStatusAwaitingApproval}, w.updates[2].OnlyFrom)
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	w := newRecordingWriter()
	fsm := NewRunFSM(w, nil, nil)
	run := w.seed("run-1", schema.RunStatusCompleted)

	err := fsm.Transition(context.Background(), run, schema.RunStatusRunning, store.RunUpdate{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.Empty(t, w.updates)
	assert.Empty(t, w.eventTypes())
}

func TestRunFSM_StaleRecordLosesRace(t *testing.T) {
	w := newRecordingWriter()
	fsm := NewRunFSM(w, nil, nil)
	run := w.seed("run-1", schema.RunStatusRunning)

	// Another writer cancelled the run after our copy was read.
	w.status["run-1"] = schema.RunStatusCancelled

	err := fsm.Transition(context.Background(), run, schema.RunStatusCompleted, store.RunUpdate{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	assert.Equal(t, schema.RunStatusCancelled, w.status["run-1"])
}

func TestRunFSM_ProgressOnRunningRun(t *testing.T) {
	w := newRecordingWriter()
	fsm := NewRunFSM(w, nil, nil)
	run := w.seed("run-1", schema.RunStatusRunning)

	steps, label := 2, "Generating image"
	require.NoError(t, fsm.Progress(context.Background(), run, store.RunUpdate{StepsCompleted: &steps, CurrentStepLabel: &label}))
	assert.Equal(t, 2, run.StepsCompleted)
	assert.Equal(t, "Generating image", run.CurrentStepLabel)
	assert.Equal(t, []string{schema.EventRunProgress}, w.eventTypes())
	assert.Nil(t, w.updates[0].Status, "progress on a running run does not rewrite the status")
}

func TestRunFSM_ProgressStartsPendingRun(t *testing.T) {
	w := newRecordingWriter()
	fsm := NewRunFSM(w, nil, nil)
	run := w.seed("run-1", schema.RunStatusPending)

	steps := 1
	require.NoError(t, fsm.Progress(context.Background(), run, store.RunUpdate{StepsCompleted: &steps}))
	assert.Equal(t, schema.RunStatusRunning, run.Status)
	assert.Equal(t, []string{schema.EventRunStarted, schema.EventRunProgress}, w.eventTypes())
}

func TestRunFSM_ProgressNeverTouchesTerminalRun(t *testing.T) {
	for _, status := range []schema.RunStatus{schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			w := newRecordingWriter()
			fsm := NewRunFSM(w, nil, nil)
			run := w.seed("run-1", status)

			steps := 3
			err := fsm.Progress(context.Background(), run, store.RunUpdate{StepsCompleted: &steps})
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
			assert.Empty(t, w.updates)
			assert.Equal(t, status, w.status["run-1"])
		})
	}
}

func TestRunFSM_HooksAndHub(t *testing.T) {
	w := newRecordingWriter()
	hub := streaming.NewMemoryHub()
	fsm := NewRunFSM(w, hub, nil)
	ctx := context.Background()

	events, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	var seen []schema.RunStatus
	fsm.OnTransition(func(_ *store.Run, _, to schema.RunStatus) { seen = append(seen, to) })

	run := w.seed("run-1", schema.RunStatusRunning)
	msg := "provider down"
	require.NoError(t, fsm.Transition(ctx, run, schema.RunStatusFailed, store.RunUpdate{ErrorMessage: &msg}))
	assert.Equal(t, []schema.RunStatus{schema.RunStatusFailed}, seen)

	select {
	case ev := <-events:
		assert.Equal(t, schema.EventRunFailed, ev.EventType)
		assert.Equal(t, "user-1", ev.UserID)
		payload, ok := ev.Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "provider down", payload["error"])
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestRunFSM_EventLogFailureIsNotFatal(t *testing.T) {
	w := newRecordingWriter()
	w.appendErr = errors.New("disk full")
	fsm := NewRunFSM(w, nil, nil)
	run := w.seed("run-1", schema.RunStatusPending)

	require.NoError(t, fsm.Transition(context.Background(), run, schema.RunStatusCancelled, store.RunUpdate{}))
	assert.Equal(t, schema.RunStatusCancelled, w.status["run-1"])
}
