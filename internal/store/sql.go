package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// Dialect selects the SQL flavour a SQLStore speaks.
type Dialect string

const (
	DialectLibSQL   Dialect = "libsql"
	DialectPostgres Dialect = "postgres"
)

// SQLStore implements the Store interface over database/sql.
// Queries are written with "?" placeholders and rebound per dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &SQLStore{db: db, dialect: DialectLibSQL}, nil
}

// NewPostgresStore connects to PostgreSQL through the pgx database/sql driver.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SQLStore{db: db, dialect: DialectPostgres}, nil
}

// Open returns a store for the named driver ("libsql" or "postgres").
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch Dialect(driver) {
	case DialectLibSQL, "":
		return NewLibSQLStore(dsn)
	case DialectPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect reports the SQL flavour of the store.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := runMigrations(ctx, s.db, s.dialect)
	return err
}

// SchemaVersion returns the highest applied migration version.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// boolArg encodes a boolean for the dialect's column type.
func (s *SQLStore) boolArg(v bool) any {
	if s.dialect == DialectPostgres {
		return v
	}
	if v {
		return 1
	}
	return 0
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// --- Runs ---

const runColumns = `id, recipe_slug, user_id, brand_id, persona_id, status, steps_completed, total_steps, current_step_label, inputs, outputs, error_message, cost, retail_cost, model_used, schedule_id, created_at, started_at, completed_at, updated_at`

func (s *SQLStore) CreateRun(ctx context.Context, run *Run) error {
	inputs, err := marshalMapOrDefault(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := marshalOutputs(run.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	_, err = s.exec(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RecipeSlug, run.UserID, nullStr(run.BrandID), nullStr(run.PersonaID),
		string(run.Status), run.StepsCompleted, run.TotalSteps, run.CurrentStepLabel,
		string(inputs), string(outputs), nullStr(run.ErrorMessage),
		run.Cost, run.RetailCost, nullStr(run.ModelUsed), nullStr(run.ScheduleID),
		run.CreatedAt.UTC(), nullTime(run.StartedAt), nullTime(run.CompletedAt), run.UpdatedAt,
	)
	return err
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

func (s *SQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.StepsCompleted != nil {
		sets = append(sets, "steps_completed = ?")
		args = append(args, *update.StepsCompleted)
	}
	if update.CurrentStepLabel != nil {
		sets = append(sets, "current_step_label = ?")
		args = append(args, *update.CurrentStepLabel)
	}
	if update.Inputs != nil {
		inputs, err := marshalMapOrDefault(update.Inputs)
		if err != nil {
			return fmt.Errorf("marshal inputs: %w", err)
		}
		sets = append(sets, "inputs = ?")
		args = append(args, string(inputs))
	}
	if update.Outputs != nil {
		outputs, err := marshalOutputs(update.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
		sets = append(sets, "outputs = ?")
		args = append(args, string(outputs))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullStr(*update.ErrorMessage))
	}
	if update.Cost != nil {
		sets = append(sets, "cost = ?")
		args = append(args, *update.Cost)
	}
	if update.RetailCost != nil {
		sets = append(sets, "retail_cost = ?")
		args = append(args, *update.RetailCost)
	}
	if update.ModelUsed != nil {
		sets = append(sets, "model_used = ?")
		args = append(args, nullStr(*update.ModelUsed))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, update.StartedAt.UTC())
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, update.CompletedAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	if len(update.OnlyFrom) > 0 {
		query += " AND status IN (" + placeholders(len(update.OnlyFrom)) + ")"
		for _, st := range update.OnlyFrom {
			args = append(args, string(st))
		}
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if len(update.OnlyFrom) == 0 {
		return storeNotFound("run", id)
	}
	var current string
	err = s.queryRow(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return storeNotFound("run", id)
	}
	if err != nil {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeConflict, "run is %s", current).WithRun(id)
}

func runWhere(filter RunFilter) ([]string, []any) {
	var where []string
	var args []any
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.RecipeSlug != "" {
		where = append(where, "recipe_slug = ?")
		args = append(args, filter.RecipeSlug)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	return where, args
}

func (s *SQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	where, args := runWhere(filter)
	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLStore) CountRuns(ctx context.Context, filter RunFilter) (int, error) {
	where, args := runWhere(filter)
	query := "SELECT COUNT(*) FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	var n int
	err := s.queryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func (s *SQLStore) ReapRuns(ctx context.Context, cutoff time.Time, message string, now time.Time) ([]*Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, s.rebind(
		`SELECT `+runColumns+` FROM runs
		 WHERE status = ? AND COALESCE(started_at, created_at) < ?
		 ORDER BY created_at`),
		string(schema.RunStatusRunning), cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("select stale runs: %w", err)
	}
	var stale []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now = now.UTC()
	var reaped []*Run
	for _, run := range stale {
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE runs SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`),
			string(schema.RunStatusFailed), message, now, now,
			run.ID, string(schema.RunStatusRunning),
		)
		if err != nil {
			return nil, fmt.Errorf("reap run %s: %w", run.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		run.Status = schema.RunStatusFailed
		run.ErrorMessage = message
		run.CompletedAt = &now
		run.UpdatedAt = now
		reaped = append(reaped, run)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reap: %w", err)
	}
	return reaped, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		brandID, personaID, errMsg, modelUsed, scheduleID sql.NullString
		inputsJSON, outputsJSON                           sql.NullString
		startedAt, completedAt                            sql.NullTime
		status                                            string
	)
	if err := row.Scan(&run.ID, &run.RecipeSlug, &run.UserID, &brandID, &personaID, &status,
		&run.StepsCompleted, &run.TotalSteps, &run.CurrentStepLabel, &inputsJSON, &outputsJSON,
		&errMsg, &run.Cost, &run.RetailCost, &modelUsed, &scheduleID,
		&run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.BrandID = brandID.String
	run.PersonaID = personaID.String
	run.Status = schema.RunStatus(status)
	run.ErrorMessage = errMsg.String
	run.ModelUsed = modelUsed.String
	run.ScheduleID = scheduleID.String
	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &run.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if outputsJSON.Valid && outputsJSON.String != "" {
		if err := json.Unmarshal([]byte(outputsJSON.String), &run.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

// --- Run events ---

// AppendRunEvent appends an event with a monotonically increasing per-run sequence.
func (s *SQLStore) AppendRunEvent(ctx context.Context, event *RunEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`), event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO run_events (run_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?)`),
		event.RunID, event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// ListRunEvents returns events for a run with sequence > since, ordered by sequence.
func (s *SQLStore) ListRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := s.query(ctx,
		`SELECT id, run_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence`, runID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*RunEvent
	for rows.Next() {
		e := &RunEvent{}
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Catalog ---

func (s *SQLStore) UpsertCatalogRow(ctx context.Context, row *CatalogRow) error {
	now := time.Now().UTC()
	_, err := s.exec(ctx,
		`INSERT INTO recipe_catalog (slug, name, description, category, enabled, usage_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
		   name=excluded.name, description=excluded.description,
		   category=excluded.category, enabled=excluded.enabled, updated_at=excluded.updated_at`,
		row.Slug, row.Name, nullStr(row.Description), nullStr(row.Category),
		s.boolArg(row.Enabled), row.UsageCount, timeOrNow(row.CreatedAt), now,
	)
	return err
}

func (s *SQLStore) GetCatalogRow(ctx context.Context, slug string) (*CatalogRow, error) {
	row := &CatalogRow{}
	var desc, category sql.NullString
	err := s.queryRow(ctx,
		`SELECT slug, name, description, category, enabled, usage_count, created_at, updated_at
		 FROM recipe_catalog WHERE slug = ?`, slug,
	).Scan(&row.Slug, &row.Name, &desc, &category, &row.Enabled, &row.UsageCount, &row.CreatedAt, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("recipe", slug)
	}
	if err != nil {
		return nil, err
	}
	row.Description = desc.String
	row.Category = category.String
	return row, nil
}

func (s *SQLStore) IncrementUsage(ctx context.Context, slug string) error {
	res, err := s.exec(ctx,
		`UPDATE recipe_catalog SET usage_count = usage_count + 1, updated_at = ? WHERE slug = ?`,
		time.Now().UTC(), slug,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "recipe", slug)
}

func (s *SQLStore) ListCatalog(ctx context.Context) ([]*CatalogRow, error) {
	rows, err := s.query(ctx,
		`SELECT slug, name, description, category, enabled, usage_count, created_at, updated_at
		 FROM recipe_catalog ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CatalogRow
	for rows.Next() {
		row := &CatalogRow{}
		var desc, category sql.NullString
		if err := rows.Scan(&row.Slug, &row.Name, &desc, &category, &row.Enabled, &row.UsageCount, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Description = desc.String
		row.Category = category.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// --- Brands and personas ---

func (s *SQLStore) CreateBrand(ctx context.Context, b *Brand) error {
	colors, err := marshalStrings(b.Colors)
	if err != nil {
		return fmt.Errorf("marshal colors: %w", err)
	}
	pillars, err := marshalStrings(b.ContentPillars)
	if err != nil {
		return fmt.Errorf("marshal content_pillars: %w", err)
	}
	hashtags, err := marshalStrings(b.Hashtags)
	if err != nil {
		return fmt.Errorf("marshal hashtags: %w", err)
	}
	b.CreatedAt = timeOrNow(b.CreatedAt)
	_, err = s.exec(ctx,
		`INSERT INTO brands (id, user_id, name, tagline, colors, voice, target_audience, content_pillars, visual_style, never_do, hashtags, caption_template, brand_doc, logo_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Name, nullStr(b.Tagline), colors, nullStr(b.Voice), nullStr(b.TargetAudience),
		pillars, nullStr(b.VisualStyle), nullStr(b.NeverDo), hashtags, nullStr(b.CaptionTemplate),
		nullStr(b.BrandDoc), nullStr(b.LogoPath), b.CreatedAt,
	)
	return err
}

func (s *SQLStore) GetBrand(ctx context.Context, id string) (*Brand, error) {
	b := &Brand{}
	var (
		tagline, voice, audience, visual, neverDo, caption, doc, logo sql.NullString
		colors, pillars, hashtags                                     sql.NullString
	)
	err := s.queryRow(ctx,
		`SELECT id, user_id, name, tagline, colors, voice, target_audience, content_pillars, visual_style, never_do, hashtags, caption_template, brand_doc, logo_path, created_at
		 FROM brands WHERE id = ?`, id,
	).Scan(&b.ID, &b.UserID, &b.Name, &tagline, &colors, &voice, &audience, &pillars,
		&visual, &neverDo, &hashtags, &caption, &doc, &logo, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("brand", id)
	}
	if err != nil {
		return nil, err
	}
	b.Tagline = tagline.String
	b.Voice = voice.String
	b.TargetAudience = audience.String
	b.VisualStyle = visual.String
	b.NeverDo = neverDo.String
	b.CaptionTemplate = caption.String
	b.BrandDoc = doc.String
	b.LogoPath = logo.String
	b.Colors = stringsOrNil(colors)
	b.ContentPillars = stringsOrNil(pillars)
	b.Hashtags = stringsOrNil(hashtags)
	return b, nil
}

func (s *SQLStore) CreatePersona(ctx context.Context, p *Persona) error {
	phrases, err := marshalStrings(p.SamplePhrases)
	if err != nil {
		return fmt.Errorf("marshal sample_phrases: %w", err)
	}
	keywords, err := marshalStrings(p.BrandKeywords)
	if err != nil {
		return fmt.Errorf("marshal brand_keywords: %w", err)
	}
	avoid, err := marshalStrings(p.AvoidWords)
	if err != nil {
		return fmt.Errorf("marshal avoid_words: %w", err)
	}
	p.CreatedAt = timeOrNow(p.CreatedAt)
	_, err = s.exec(ctx,
		`INSERT INTO personas (id, user_id, name, tone, voice_style, bio, industry, target_audience, writing_guidelines, sample_phrases, brand_keywords, avoid_words, prompt_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, nullStr(p.Tone), nullStr(p.VoiceStyle), nullStr(p.Bio), nullStr(p.Industry),
		nullStr(p.TargetAudience), nullStr(p.WritingGuidelines), phrases, keywords, avoid,
		nullStr(p.PromptSummary), p.CreatedAt,
	)
	return err
}

func (s *SQLStore) GetPersona(ctx context.Context, id string) (*Persona, error) {
	p := &Persona{}
	var (
		tone, voiceStyle, bio, industry, audience, guidelines, summary sql.NullString
		phrases, keywords, avoid                                       sql.NullString
	)
	err := s.queryRow(ctx,
		`SELECT id, user_id, name, tone, voice_style, bio, industry, target_audience, writing_guidelines, sample_phrases, brand_keywords, avoid_words, prompt_summary, created_at
		 FROM personas WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &tone, &voiceStyle, &bio, &industry, &audience,
		&guidelines, &phrases, &keywords, &avoid, &summary, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("persona", id)
	}
	if err != nil {
		return nil, err
	}
	p.Tone = tone.String
	p.VoiceStyle = voiceStyle.String
	p.Bio = bio.String
	p.Industry = industry.String
	p.TargetAudience = audience.String
	p.WritingGuidelines = guidelines.String
	p.PromptSummary = summary.String
	p.SamplePhrases = stringsOrNil(phrases)
	p.BrandKeywords = stringsOrNil(keywords)
	p.AvoidWords = stringsOrNil(avoid)
	return p, nil
}

// --- Scheduled runs ---

const scheduledColumns = `id, recipe_slug, user_id, brand_id, persona_id, inputs, cron_expression, enabled, last_run_at, next_run_at, last_run_status, last_run_id, created_at`

func (s *SQLStore) CreateScheduledRun(ctx context.Context, job *ScheduledRun) error {
	inputs, err := marshalMapOrDefault(job.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	job.CreatedAt = timeOrNow(job.CreatedAt)
	_, err = s.exec(ctx,
		`INSERT INTO scheduled_runs (`+scheduledColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.RecipeSlug, job.UserID, nullStr(job.BrandID), nullStr(job.PersonaID),
		string(inputs), job.CronExpression, s.boolArg(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(string(job.LastRunStatus)),
		nullStr(job.LastRunID), job.CreatedAt,
	)
	return err
}

func (s *SQLStore) GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error) {
	job, err := scanScheduledRun(s.queryRow(ctx, `SELECT `+scheduledColumns+` FROM scheduled_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled run", id)
	}
	return job, err
}

func (s *SQLStore) UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, s.boolArg(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, update.LastRunAt.UTC())
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, update.NextRunAt.UTC())
	}
	if update.LastRunStatus != nil {
		sets = append(sets, "last_run_status = ?")
		args = append(args, string(*update.LastRunStatus))
	}
	if update.LastRunID != nil {
		sets = append(sets, "last_run_id = ?")
		args = append(args, nullStr(*update.LastRunID))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled run", id)
}

func (s *SQLStore) ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, s.boolArg(*filter.Enabled))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	query := "SELECT " + scheduledColumns + " FROM scheduled_runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledRun
	for rows.Next() {
		job, err := scanScheduledRun(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLStore) DeleteScheduledRun(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM scheduled_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled run", id)
}

func scanScheduledRun(row rowScanner) (*ScheduledRun, error) {
	job := &ScheduledRun{}
	var (
		brandID, personaID, inputsJSON, lastStatus, lastRunID sql.NullString
		lastRunAt, nextRunAt                                  sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.RecipeSlug, &job.UserID, &brandID, &personaID, &inputsJSON,
		&job.CronExpression, &job.Enabled, &lastRunAt, &nextRunAt, &lastStatus, &lastRunID, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.BrandID = brandID.String
	job.PersonaID = personaID.String
	job.LastRunStatus = schema.RunStatus(lastStatus.String)
	job.LastRunID = lastRunID.String
	if inputsJSON.Valid && inputsJSON.String != "" {
		_ = json.Unmarshal([]byte(inputsJSON.String), &job.Inputs)
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		job.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		job.NextRunAt = &t
	}
	return job, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

func marshalOutputs(items []schema.OutputItem) (json.RawMessage, error) {
	if len(items) == 0 {
		return json.RawMessage("[]"), nil
	}
	return json.Marshal(items)
}

func marshalStrings(values []string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func stringsOrNil(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}
