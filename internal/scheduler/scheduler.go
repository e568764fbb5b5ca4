package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// Submitter is the part of the engine the scheduler submits runs through.
// A nil Submitter disables recurring runs.
type Submitter interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (*store.Run, error)
}

// Reaper is the part of the engine a reaper schedule calls.
type Reaper interface {
	Reap(ctx context.Context, maxAge time.Duration) ([]*store.Run, error)
}

// Options configure a Scheduler.
type Options struct {
	// ReaperCron, when set, runs a reaper sweep on that schedule.
	ReaperCron string
	Reaper     Reaper
	// Interval between due-job checks. Defaults to one minute.
	Interval time.Duration
}

// Scheduler polls the store for due scheduled runs and submits them.
type Scheduler struct {
	store     store.Store
	submitter Submitter
	parser    cron.Parser
	logger    *slog.Logger
	opts      Options
	cron      *cron.Cron
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently submitting (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, submitter Submitter, logger *slog.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Scheduler{
		store:     s,
		submitter: submitter,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
		opts:      opts,
		inflight:  make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop and, when configured, the
// reaper schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	if s.opts.ReaperCron != "" && s.opts.Reaper != nil {
		c := cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
		if _, err := c.AddFunc(s.opts.ReaperCron, func() { s.sweep(ctx) }); err != nil {
			return fmt.Errorf("parse reaper_cron %q: %w", s.opts.ReaperCron, err)
		}
		c.Start()
		s.cron = c
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.String("reaper_cron", s.opts.ReaperCron))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	// Without a submitter only the reaper schedule runs.
	if s.submitter == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	reaped, err := s.opts.Reaper.Reap(ctx, 0)
	if err != nil {
		s.logger.Error("scheduled reaper sweep failed", slog.String("error", err.Error()))
		return
	}
	if len(reaped) > 0 {
		s.logger.Info("scheduled reaper sweep", slog.Int("reaped", len(reaped)))
	}
}

// tick checks all enabled schedules and submits those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled runs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue // already submitting (dedup)
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled recipe",
				slog.String("schedule_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob submits one scheduled run and records the outcome of the submission.
// The run itself finishes in the background; last_run_status is the status
// the run had when it was accepted, or failed when it was rejected.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledRun, now time.Time) error {
	s.logger.Info("submitting scheduled recipe",
		slog.String("schedule_id", job.ID),
		slog.String("recipe", job.RecipeSlug),
	)

	run, err := s.submitter.Submit(ctx, engine.SubmitRequest{
		Recipe:     job.RecipeSlug,
		UserID:     job.UserID,
		BrandID:    job.BrandID,
		PersonaID:  job.PersonaID,
		Inputs:     job.Inputs,
		ScheduleID: job.ID,
	})
	status := schema.RunStatusFailed
	runID := ""
	if run != nil {
		status = run.Status
		runID = run.ID
	}
	if err != nil {
		status = schema.RunStatusFailed
		s.logger.Error("scheduled submission rejected",
			slog.String("schedule_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	return s.updateJobStatus(ctx, job, now, status, runID)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledRun, now time.Time, status schema.RunStatus, runID string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		// An unparsable schedule would fire on every tick.
		disabled := false
		_ = s.store.UpdateScheduledRun(ctx, job.ID, store.ScheduledRunUpdate{Enabled: &disabled})
		return fmt.Errorf("calculate next run for schedule %q: %w", job.ID, err)
	}

	update := store.ScheduledRunUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: &status,
	}
	if runID != "" {
		update.LastRunID = &runID
	}
	return s.store.UpdateScheduledRun(ctx, job.ID, update)
}

// Add validates and stores a new schedule with its first next_run_at.
func (s *Scheduler) Add(ctx context.Context, job *store.ScheduledRun) error {
	if job.RecipeSlug == "" || job.UserID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule needs a recipe and a user")
	}
	next, err := s.CalculateNextRun(job.CronExpression, time.Now().UTC())
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q", job.CronExpression).WithCause(err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.NextRunAt = &next
	return s.store.CreateScheduledRun(ctx, job)
}

// tryAcquire returns true and marks the schedule as in-flight if it is not already.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

// releaseJob removes the schedule from the in-flight set.
func (s *Scheduler) releaseJob(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// List returns the schedules of a user, or every schedule when userID is empty.
func (s *Scheduler) List(ctx context.Context, userID string) ([]*store.ScheduledRun, error) {
	return s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{UserID: userID})
}
