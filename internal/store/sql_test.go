package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/recipe-engine/pkg/schema"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedRun(t *testing.T, s *SQLStore, mutate func(*Run)) *Run {
	t.Helper()
	r := &Run{
		ID:               uuid.New().String(),
		RecipeSlug:       "image-creator",
		UserID:           "user-1",
		Status:           schema.RunStatusPending,
		TotalSteps:       3,
		CurrentStepLabel: "Preparing prompt",
		Inputs:           map[string]any{"prompt": "a red bicycle"},
	}
	if mutate != nil {
		mutate(r)
	}
	require.NoError(t, s.CreateRun(context.Background(), r))
	return r
}

func ptr[T any](v T) *T { return &v }

// --- Run Tests ---

func TestCreateAndGetRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s, nil)

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "image-creator", got.RecipeSlug)
	assert.Equal(t, schema.RunStatusPending, got.Status)
	assert.Equal(t, 3, got.TotalSteps)
	assert.Equal(t, "Preparing prompt", got.CurrentStepLabel)
	assert.Equal(t, "a red bicycle", got.Inputs["prompt"])
	assert.Empty(t, got.Outputs)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestUpdateRun_Fields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s, nil)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateRun(ctx, r.ID, RunUpdate{
		Status:         ptr(schema.RunStatusCompleted),
		StepsCompleted: ptr(3),
		Outputs:        []schema.OutputItem{schema.ImageOutput("Image 1", "x.png")},
		Cost:           ptr(0.04),
		RetailCost:     ptr(0.09),
		ModelUsed:      ptr("nano-banana-pro"),
		StartedAt:      &now,
		CompletedAt:    &now,
	}))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.StepsCompleted)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, "x.png", got.Outputs[0].URL)
	assert.InDelta(t, 0.04, got.Cost, 1e-9)
	assert.InDelta(t, 0.09, got.RetailCost, 1e-9)
	assert.Equal(t, "nano-banana-pro", got.ModelUsed)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, now, *got.CompletedAt, time.Second)
}

func TestUpdateRun_EmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.UpdateRun(context.Background(), "whatever", RunUpdate{}))
}

func TestUpdateRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateRun(context.Background(), "missing", RunUpdate{Status: ptr(schema.RunStatusRunning)})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestUpdateRun_GuardRejectsOtherStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s, func(r *Run) { r.Status = schema.RunStatusCompleted })

	err := s.UpdateRun(ctx, r.ID, RunUpdate{
		Status:   ptr(schema.RunStatusRunning),
		OnlyFrom: schema.NonTerminalStatuses,
	})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
}

func TestUpdateRun_GuardAllowsListedStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s, func(r *Run) { r.Status = schema.RunStatusAwaitingApproval })

	require.NoError(t, s.UpdateRun(ctx, r.ID, RunUpdate{
		Status:   ptr(schema.RunStatusRunning),
		OnlyFrom: []schema.RunStatus{schema.RunStatusAwaitingApproval},
	}))
	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusRunning, got.Status)
}

func TestUpdateRun_GuardMissingRunIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateRun(context.Background(), "missing", RunUpdate{
		Status:   ptr(schema.RunStatusRunning),
		OnlyFrom: schema.NonTerminalStatuses,
	})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestListRuns_FiltersAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	first := seedRun(t, s, func(r *Run) { r.CreatedAt = base })
	second := seedRun(t, s, func(r *Run) {
		r.CreatedAt = base.Add(time.Minute)
		r.Status = schema.RunStatusFailed
	})
	seedRun(t, s, func(r *Run) { r.UserID = "user-2" })
	seedRun(t, s, func(r *Run) {
		r.RecipeSlug = "news-digest"
		r.CreatedAt = base.Add(2 * time.Minute)
	})

	runs, err := s.ListRuns(ctx, RunFilter{UserID: "user-1", RecipeSlug: "image-creator"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "newest first")
	assert.Equal(t, first.ID, runs[1].ID)

	failed := schema.RunStatusFailed
	runs, err = s.ListRuns(ctx, RunFilter{UserID: "user-1", Status: &failed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, second.ID, runs[0].ID)

	n, err := s.CountRuns(ctx, RunFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	page, err := s.ListRuns(ctx, RunFilter{UserID: "user-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID)
}

func TestReapRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := seedRun(t, s, func(r *Run) {
		r.Status = schema.RunStatusRunning
		r.StartedAt = ptr(now.Add(-45 * time.Minute))
	})
	fresh := seedRun(t, s, func(r *Run) {
		r.Status = schema.RunStatusRunning
		r.StartedAt = ptr(now.Add(-5 * time.Minute))
	})
	done := seedRun(t, s, func(r *Run) {
		r.Status = schema.RunStatusCompleted
		r.StartedAt = ptr(now.Add(-120 * time.Minute))
	})
	orphan := seedRun(t, s, func(r *Run) {
		r.Status = schema.RunStatusRunning
		r.CreatedAt = now.Add(-90 * time.Minute)
	})
	newborn := seedRun(t, s, func(r *Run) {
		r.Status = schema.RunStatusRunning
		r.CreatedAt = now.Add(-time.Minute)
	})

	reaped, err := s.ReapRuns(ctx, now.Add(-30*time.Minute), "Run timed out after 30 minutes.", now)
	require.NoError(t, err)
	require.Len(t, reaped, 2)
	assert.Equal(t, orphan.ID, reaped[0].ID)
	assert.Equal(t, stale.ID, reaped[1].ID)
	assert.Nil(t, reaped[0].StartedAt)

	got, err := s.GetRun(ctx, newborn.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusRunning, got.Status)

	got, err = s.GetRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "timed out")
	assert.NotNil(t, got.CompletedAt)

	got, err = s.GetRun(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusRunning, got.Status)

	got, err = s.GetRun(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)

	again, err := s.ReapRuns(ctx, now.Add(-30*time.Minute), "again", now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

// --- Run event Tests ---

func TestRunEvents_Sequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	r := seedRun(t, s, nil)

	for _, typ := range []string{schema.EventRunStarted, schema.EventRunProgress, schema.EventRunCompleted} {
		require.NoError(t, s.AppendRunEvent(ctx, &RunEvent{RunID: r.ID, Type: typ, Payload: json.RawMessage(`{"ok":true}`)}))
	}

	events, err := s.ListRunEvents(ctx, r.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Equal(t, schema.EventRunCompleted, events[2].Type)
	assert.JSONEq(t, `{"ok":true}`, string(events[0].Payload))

	tail, err := s.ListRunEvents(ctx, r.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Sequence)
}

// --- Catalog Tests ---

func TestCatalog_UpsertToggleUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCatalogRow(ctx, &CatalogRow{Slug: "image-creator", Name: "Image Creator", Category: "content_creation", Enabled: true}))
	require.NoError(t, s.IncrementUsage(ctx, "image-creator"))
	require.NoError(t, s.IncrementUsage(ctx, "image-creator"))

	row, err := s.GetCatalogRow(ctx, "image-creator")
	require.NoError(t, err)
	assert.True(t, row.Enabled)
	assert.Equal(t, 2, row.UsageCount)

	require.NoError(t, s.UpsertCatalogRow(ctx, &CatalogRow{Slug: "image-creator", Name: "Image Creator", Category: "content_creation"}))
	row, err = s.GetCatalogRow(ctx, "image-creator")
	require.NoError(t, err)
	assert.False(t, row.Enabled)
	assert.Equal(t, 2, row.UsageCount)

	require.NoError(t, s.UpsertCatalogRow(ctx, &CatalogRow{Slug: "image-creator", Name: "Image Studio", Enabled: true}))
	row, err = s.GetCatalogRow(ctx, "image-creator")
	require.NoError(t, err)
	assert.Equal(t, "Image Studio", row.Name)
	assert.True(t, row.Enabled)
	assert.Equal(t, 2, row.UsageCount, "upsert keeps usage count")

	rows, err := s.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCatalog_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.GetCatalogRow(ctx, "nope")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.True(t, schema.IsCode(s.IncrementUsage(ctx, "nope"), schema.ErrCodeNotFound))
}

// --- Brand / Persona Tests ---

func TestBrandRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := &Brand{
		ID:             uuid.New().String(),
		UserID:         "user-1",
		Name:           "Acme",
		Colors:         []string{"#ff0000", "#00ff00"},
		ContentPillars: []string{"education"},
		Voice:          "Friendly",
	}
	require.NoError(t, s.CreateBrand(ctx, b))

	got, err := s.GetBrand(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, []string{"#ff0000", "#00ff00"}, got.Colors)
	assert.Equal(t, []string{"education"}, got.ContentPillars)
	assert.Nil(t, got.Hashtags)

	_, err = s.GetBrand(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestPersonaRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := &Persona{
		ID:            uuid.New().String(),
		UserID:        "user-1",
		Name:          "Coach",
		Tone:          "warm",
		AvoidWords:    []string{"synergy"},
		PromptSummary: "Encouraging fitness coach",
	}
	require.NoError(t, s.CreatePersona(ctx, p))

	got, err := s.GetPersona(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "warm", got.Tone)
	assert.Equal(t, []string{"synergy"}, got.AvoidWords)
	assert.Equal(t, "Encouraging fitness coach", got.PromptSummary)
}

// --- Scheduled run Tests ---

func TestScheduledRuns_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := &ScheduledRun{
		ID:             uuid.New().String(),
		RecipeSlug:     "news-digest",
		UserID:         "user-1",
		Inputs:         map[string]any{"urls": "https://example.com"},
		CronExpression: "0 9 * * 1",
		Enabled:        true,
	}
	require.NoError(t, s.CreateScheduledRun(ctx, job))

	got, err := s.GetScheduledRun(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, "https://example.com", got.Inputs["urls"])

	next := time.Now().UTC().Add(time.Hour)
	require.NoError(t, s.UpdateScheduledRun(ctx, job.ID, ScheduledRunUpdate{
		NextRunAt:     &next,
		LastRunStatus: ptr(schema.RunStatusPending),
		LastRunID:     ptr("run-1"),
	}))
	got, err = s.GetScheduledRun(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, "run-1", got.LastRunID)
	assert.Equal(t, schema.RunStatusPending, got.LastRunStatus)

	enabled := true
	jobs, err := s.ListScheduledRuns(ctx, ScheduledRunFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, s.UpdateScheduledRun(ctx, job.ID, ScheduledRunUpdate{Enabled: ptr(false)}))
	jobs, err = s.ListScheduledRuns(ctx, ScheduledRunFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	require.NoError(t, s.DeleteScheduledRun(ctx, job.ID))
	_, err = s.GetScheduledRun(ctx, job.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

// --- Dialect helpers ---

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM runs WHERE id = $1 AND status IN ($2, $3)",
		pg.rebind("SELECT * FROM runs WHERE id = ? AND status IN (?, ?)"))

	lite := &SQLStore{dialect: DialectLibSQL}
	assert.Equal(t, "id = ?", lite.rebind("id = ?"))
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "comment only chunks are dropped",
			script: "-- header\nCREATE TABLE a (x INT);\n\n-- only comment\n;CREATE INDEX i ON a(x);",
			want:   []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a(x)"},
		},
		{
			name:   "semicolon inside a comment",
			script: "-- scans jobs; links runs.\nCREATE INDEX i ON a(x);\nCREATE INDEX j ON a(y);",
			want:   []string{"CREATE INDEX i ON a(x)", "CREATE INDEX j ON a(y)"},
		},
		{
			name:   "trailing comment",
			script: "CREATE TABLE a (x INT); -- done; really\n",
			want:   []string{"CREATE TABLE a (x INT)"},
		},
		{
			name:   "dashes inside a literal are kept",
			script: "CREATE TABLE a (x TEXT DEFAULT '--');",
			want:   []string{"CREATE TABLE a (x TEXT DEFAULT '--')"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitStatements(tt.script))
		})
	}
}

func TestMigrate_EmbeddedScriptsSplitCleanly(t *testing.T) {
	for _, d := range []Dialect{DialectLibSQL, DialectPostgres} {
		ms, err := loadMigrations(migrationFS, d)
		require.NoError(t, err)
		for _, m := range ms {
			for _, stmt := range splitStatements(m.SQL) {
				assert.NotContains(t, stmt, "--", "%s migration %d", d, m.Version)
				assert.Regexp(t, `^(CREATE|ALTER|INSERT|DROP)\b`, stmt, "%s migration %d", d, m.Version)
			}
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	applied, err := runMigrations(ctx, s.DB(), s.Dialect())
	require.NoError(t, err)
	assert.Empty(t, applied)

	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestLoadMigrations_BothDialectsInOrder(t *testing.T) {
	for _, d := range []Dialect{DialectLibSQL, DialectPostgres} {
		ms, err := loadMigrations(migrationFS, d)
		require.NoError(t, err, d)
		require.Len(t, ms, 2, d)
		assert.Equal(t, 1, ms[0].Version)
		assert.Equal(t, "initial_schema", ms[0].Name)
		assert.Equal(t, "schedule_indexes", ms[1].Name)
	}
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/libsql/001_a.sql":   {Data: []byte("SELECT 1;")},
		"migrations/libsql/notes.txt":   {Data: []byte("ignored")},
		"migrations/libsql/initial.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys, DialectLibSQL)
	assert.ErrorContains(t, err, "initial.sql")

	dup := fstest.MapFS{
		"migrations/libsql/001_a.sql": {Data: []byte("SELECT 1;")},
		"migrations/libsql/01_b.sql":  {Data: []byte("SELECT 2;")},
	}
	_, err = loadMigrations(dup, DialectLibSQL)
	assert.ErrorContains(t, err, "duplicate migration version 1")
}
