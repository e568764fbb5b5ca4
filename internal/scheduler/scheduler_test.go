package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// memSchedules keeps schedules in memory. Other store methods panic.
type memSchedules struct {
	store.Store
	mu        sync.Mutex
	schedules map[string]*store.ScheduledRun
}

func newMemSchedules() *memSchedules {
	return &memSchedules{schedules: make(map[string]*store.ScheduledRun)}
}

func (m *memSchedules) CreateScheduledRun(_ context.Context, job *store.ScheduledRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.schedules[job.ID] = &cp
	return nil
}

func (m *memSchedules) GetScheduledRun(_ context.Context, id string) (*store.ScheduledRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.schedules[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	cp := *j
	return &cp, nil
}

func (m *memSchedules) UpdateScheduledRun(_ context.Context, id string, update store.ScheduledRunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.schedules[id]
	if !ok {
		return nil
	}
	if update.Enabled != nil {
		j.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		j.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		j.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != nil {
		j.LastRunStatus = *update.LastRunStatus
	}
	if update.LastRunID != nil {
		j.LastRunID = *update.LastRunID
	}
	return nil
}

func (m *memSchedules) ListScheduledRuns(_ context.Context, filter store.ScheduledRunFilter) ([]*store.ScheduledRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ScheduledRun
	for _, j := range m.schedules {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.UserID != "" && j.UserID != filter.UserID {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	return result, nil
}

// recordingSubmitter keeps every request it receives.
type recordingSubmitter struct {
	mu    sync.Mutex
	calls []engine.SubmitRequest
	err   error
}

func (m *recordingSubmitter) Submit(_ context.Context, req engine.SubmitRequest) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return &store.Run{ID: "run-" + req.ScheduleID, RecipeSlug: req.Recipe, Status: schema.RunStatusPending}, nil
}

func (m *recordingSubmitter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type countingReaper struct {
	mu    sync.Mutex
	calls int
}

func (m *countingReaper) Reap(context.Context, time.Duration) ([]*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return nil, nil
}

func newTestScheduler(s store.Store, sub Submitter) *Scheduler {
	return NewScheduler(s, sub, slog.Default(), Options{})
}

func seedSchedule(t *testing.T, st *memSchedules, id string, enabled bool, next *time.Time) {
	t.Helper()
	require.NoError(t, st.CreateScheduledRun(context.Background(), &store.ScheduledRun{
		ID:             id,
		RecipeSlug:     "news-digest",
		UserID:         "user-1",
		Inputs:         map[string]any{"urls": "https://example.com/a"},
		CronExpression: "0 * * * *",
		Enabled:        enabled,
		NextRunAt:      next,
	}))
}

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(newMemSchedules(), &recordingSubmitter{})
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		cron string
		want time.Time
	}{
		{"0 * * * *", time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC)},
		{"0 0 * * *", time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)},
		{"30 9 * * 1-5", time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.cron, func(t *testing.T) {
			got, err := sched.CalculateNextRun(tt.cron, from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := sched.CalculateNextRun("every tuesday", from)
	assert.Error(t, err)
}

func TestTickSubmitsDueSchedules(t *testing.T) {
	st := newMemSchedules()
	sub := &recordingSubmitter{}
	sched := newTestScheduler(st, sub)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	seedSchedule(t, st, "sched-1", true, &past)

	sched.tick(ctx)

	require.Equal(t, 1, sub.callCount())
	call := sub.calls[0]
	assert.Equal(t, "news-digest", call.Recipe)
	assert.Equal(t, "user-1", call.UserID)
	assert.Equal(t, "sched-1", call.ScheduleID)
	assert.Equal(t, "https://example.com/a", call.Inputs["urls"])

	got, err := st.GetScheduledRun(ctx, "sched-1")
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunAt)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
	assert.Equal(t, schema.RunStatusPending, got.LastRunStatus)
	assert.Equal(t, "run-sched-1", got.LastRunID)
}

func TestTickSkipsNotDueAndDisabled(t *testing.T) {
	st := newMemSchedules()
	sub := &recordingSubmitter{}
	sched := newTestScheduler(st, sub)

	future := time.Now().UTC().Add(time.Hour)
	past := time.Now().UTC().Add(-time.Hour)
	seedSchedule(t, st, "sched-future", true, &future)
	seedSchedule(t, st, "sched-off", false, &past)

	sched.tick(context.Background())
	assert.Equal(t, 0, sub.callCount())
}

func TestTickWithNilNextRunAt(t *testing.T) {
	st := newMemSchedules()
	sub := &recordingSubmitter{}
	sched := newTestScheduler(st, sub)

	// A schedule without next_run_at is treated as overdue.
	seedSchedule(t, st, "sched-new", true, nil)

	sched.tick(context.Background())
	assert.Equal(t, 1, sub.callCount())
}

func TestRejectedSubmissionIsRecorded(t *testing.T) {
	st := newMemSchedules()
	sub := &recordingSubmitter{err: schema.NewError(schema.ErrCodeRecipeDisabled, "recipe is disabled")}
	sched := newTestScheduler(st, sub)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	seedSchedule(t, st, "sched-fail", true, &past)

	sched.tick(ctx)

	got, err := st.GetScheduledRun(ctx, "sched-fail")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.LastRunStatus)
	assert.Empty(t, got.LastRunID)
	assert.NotNil(t, got.NextRunAt)
}

func TestInvalidCronDisablesSchedule(t *testing.T) {
	st := newMemSchedules()
	sched := newTestScheduler(st, &recordingSubmitter{})
	ctx := context.Background()

	require.NoError(t, st.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "sched-bad", RecipeSlug: "news-digest", UserID: "user-1",
		CronExpression: "every tuesday", Enabled: true,
	}))
	sched.tick(ctx)

	got, err := st.GetScheduledRun(ctx, "sched-bad")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestAddValidatesCron(t *testing.T) {
	st := newMemSchedules()
	sched := newTestScheduler(st, &recordingSubmitter{})
	ctx := context.Background()

	err := sched.Add(ctx, &store.ScheduledRun{RecipeSlug: "news-digest", UserID: "user-1", CronExpression: "nope"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	job := &store.ScheduledRun{RecipeSlug: "news-digest", UserID: "user-1", CronExpression: "0 8 * * 1", Enabled: true}
	require.NoError(t, sched.Add(ctx, job))
	assert.NotEmpty(t, job.ID)
	require.NotNil(t, job.NextRunAt)
	assert.Equal(t, time.Monday, job.NextRunAt.Weekday())
}

func TestDedupPreventsDoubleSubmit(t *testing.T) {
	st := newMemSchedules()
	sub := &recordingSubmitter{}
	sched := newTestScheduler(st, sub)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	seedSchedule(t, st, "sched-dedup", true, &past)

	// Pre-acquire the schedule to simulate an in-flight submission.
	assert.True(t, sched.tryAcquire("sched-dedup"))
	sched.tick(ctx)
	assert.Equal(t, 0, sub.callCount())

	sched.releaseJob("sched-dedup")
	sched.tick(ctx)
	assert.Equal(t, 1, sub.callCount())
}

func TestStartStop(t *testing.T) {
	st := newMemSchedules()
	sched := newTestScheduler(st, &recordingSubmitter{})
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))

	err := sched.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}

func TestStartRejectsBadReaperCron(t *testing.T) {
	sched := NewScheduler(newMemSchedules(), &recordingSubmitter{}, nil, Options{
		ReaperCron: "sometimes",
		Reaper:     &countingReaper{},
	})
	err := sched.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reaper_cron")
	require.NoError(t, sched.Stop())
}

func TestReaperSweep(t *testing.T) {
	reaper := &countingReaper{}
	sched := NewScheduler(newMemSchedules(), &recordingSubmitter{}, nil, Options{
		ReaperCron: "*/5 * * * *",
		Reaper:     reaper,
	})
	sched.sweep(context.Background())
	assert.Equal(t, 1, reaper.calls)
}

func TestListFiltersByUser(t *testing.T) {
	st := newMemSchedules()
	sched := newTestScheduler(st, &recordingSubmitter{})
	ctx := context.Background()
	seedSchedule(t, st, "sched-1", true, nil)
	require.NoError(t, st.CreateScheduledRun(ctx, &store.ScheduledRun{ID: "sched-2", UserID: "user-2", CronExpression: "0 * * * *"}))

	mine, err := sched.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "sched-1", mine[0].ID)

	all, err := sched.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReaperOnlySchedulerSubmitsNothing(t *testing.T) {
	st := newMemSchedules()
	past := time.Now().UTC().Add(-time.Hour)
	seedSchedule(t, st, "sched-1", true, &past)

	sched := NewScheduler(st, nil, nil, Options{ReaperCron: "*/5 * * * *", Reaper: &countingReaper{}})
	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Stop())

	job, err := st.GetScheduledRun(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.Nil(t, job.LastRunAt)
}
