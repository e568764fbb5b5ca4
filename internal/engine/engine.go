package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/recipe-engine/internal/expressions"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/internal/recipes"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/internal/streaming"
	"github.com/rendis/recipe-engine/internal/validation"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// Engine is the recipe execution engine: it accepts submissions, runs them in
// the background, pauses two-phase recipes for approval and reports status.
type Engine interface {
	// Submit validates inputs, creates a pending run and launches it.
	Submit(ctx context.Context, req SubmitRequest) (*store.Run, error)

	// Approve resumes a run waiting for approval with the edited scenes.
	Approve(ctx context.Context, req ApproveRequest) (*store.Run, error)

	// Cancel stops a run that has not finished.
	Cancel(ctx context.Context, runID, userID string) (*store.Run, error)

	// Status returns the polling view of a run.
	Status(ctx context.Context, runID string, opts StatusOptions) (*RunView, error)

	// History lists a user's runs, newest first.
	History(ctx context.Context, q HistoryQuery) (*HistoryPage, error)

	// Library lists active, enabled recipes grouped by category.
	Library(ctx context.Context) (*LibraryView, error)

	// Recipe describes one recipe, including its form fields.
	Recipe(ctx context.Context, slug string) (*RecipeInfo, error)

	// SyncCatalog brings every registered recipe's catalog row in line with
	// its definition.
	SyncCatalog(ctx context.Context) (map[string]*store.CatalogRow, error)

	// EstimateCost evaluates a recipe's cost formula for the given inputs.
	EstimateCost(ctx context.Context, slug string, inputs map[string]any) (*CostEstimate, error)

	// Reap fails runs stuck in running for longer than maxAge. Zero maxAge
	// uses the configured run timeout.
	Reap(ctx context.Context, maxAge time.Duration) ([]*store.Run, error)

	// Pool exposes the worker pool metrics.
	Pool() PoolMetrics

	// Wait blocks until every launched run has finished.
	Wait()

	// Shutdown stops accepting runs and waits for the in-flight ones.
	Shutdown()
}

// Recorder receives run outcomes for metrics.
type Recorder interface {
	RunFinished(recipe string, status schema.RunStatus, elapsed time.Duration)
	RunsReaped(n int)
}

// Defaults for Config.
const (
	DefaultWorkers       = 4
	DefaultQueueDepth    = 64
	DefaultSubmitTimeout = 5 * time.Second
	DefaultRunTimeout    = 30 * time.Minute
	DefaultPageSize      = 20
	MaxPageSize          = 100
)

// Config holds engine tunables.
type Config struct {
	// Workers is the number of runs executed at the same time.
	Workers int
	// QueueDepth is how many launched runs may wait for a worker.
	QueueDepth int
	// SubmitTimeout bounds how long a launch waits for queue space.
	SubmitTimeout time.Duration
	// RunTimeout is the age after which the reaper fails a running run.
	RunTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueDepth < 0 {
		c.QueueDepth = 0
	} else if c.QueueDepth == 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	return c
}

// Deps are the collaborators of the engine. Store and Registry are required.
type Deps struct {
	Store     store.Store
	Registry  *recipes.Registry
	Validator validation.Validator
	Hub       streaming.EventHub
	Recorder  Recorder
	Logger    *slog.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// engineImpl is the concrete Engine implementation.
type engineImpl struct {
	store     store.Store
	registry  *recipes.Registry
	validator validation.Validator
	fsm       *RunFSM
	pool      *WorkerPool
	exprs     *expressions.ExprEngine
	jq        *expressions.GoJQEngine
	recorder  Recorder
	logger    *slog.Logger
	config    Config
	clock     func() time.Time

	// mu guards running.
	mu      sync.Mutex
	running map[string]*runHandle
}

// runHandle lets Cancel and the reaper interrupt one launch of a run.
type runHandle struct {
	cancel context.CancelFunc
}

// New creates an engine and starts its worker pool.
func New(deps Deps, cfg Config) (Engine, error) {
	return newEngine(deps, cfg)
}

func newEngine(deps Deps, cfg Config) (*engineImpl, error) {
	if deps.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine: store is required")
	}
	if deps.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine: registry is required")
	}
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	validator := deps.Validator
	if validator == nil {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		validator = validation.NewInputValidator(cel, validation.DefaultLimits)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	exprs := expressions.NewExprEngine(providers.RetailCost)
	for _, def := range deps.Registry.List(true) {
		if formula := def.CostEstimate(); formula != "" {
			if err := exprs.CheckCostFormula(formula); err != nil {
				return nil, fmt.Errorf("recipe %s cost formula: %w", def.Meta().Slug, err)
			}
		}
	}

	e := &engineImpl{
		store:     deps.Store,
		registry:  deps.Registry,
		validator: validator,
		fsm:       NewRunFSM(deps.Store, deps.Hub, logger),
		pool:      NewWorkerPool(cfg.Workers, cfg.QueueDepth, logger),
		exprs:     exprs,
		jq:        expressions.NewGoJQEngine(),
		recorder:  deps.Recorder,
		logger:    logger,
		config:    cfg,
		clock:     func() time.Time { return clock().UTC() },
		running:   make(map[string]*runHandle),
	}
	if e.recorder != nil {
		e.fsm.OnTransition(e.recordTransition)
	}
	return e, nil
}

func (e *engineImpl) recordTransition(run *store.Run, _, to schema.RunStatus) {
	if !to.IsTerminal() {
		return
	}
	e.recorder.RunFinished(run.RecipeSlug, to, e.elapsed(run))
}

func (e *engineImpl) elapsed(run *store.Run) time.Duration {
	return runAge(run, e.clock())
}

// runAge counts from StartedAt, or from CreatedAt for a run whose start was
// never recorded. The reaper ages runs the same way.
func runAge(run *store.Run, now time.Time) time.Duration {
	start := run.CreatedAt
	if run.StartedAt != nil {
		start = *run.StartedAt
	}
	if start.IsZero() {
		return 0
	}
	return now.Sub(start)
}

func (e *engineImpl) Pool() PoolMetrics { return e.pool.Metrics() }

func (e *engineImpl) Wait() { e.pool.Wait() }

func (e *engineImpl) Shutdown() { e.pool.Shutdown() }

// track registers the cancel func of one launch of a run.
func (e *engineImpl) track(runID string, cancel context.CancelFunc) *runHandle {
	h := &runHandle{cancel: cancel}
	e.mu.Lock()
	e.running[runID] = h
	e.mu.Unlock()
	return h
}

// untrack forgets h, unless a later launch of the same run replaced it.
func (e *engineImpl) untrack(runID string, h *runHandle) {
	e.mu.Lock()
	if e.running[runID] == h {
		delete(e.running, runID)
	}
	e.mu.Unlock()
}

// interrupt cancels the in-flight launch of a run, if any.
func (e *engineImpl) interrupt(runID string) bool {
	e.mu.Lock()
	h, ok := e.running[runID]
	e.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// loadOwned reads a run and hides runs of other users. An empty userID is
// a trusted caller (CLI, scheduler) and sees every run.
func (e *engineImpl) loadOwned(ctx context.Context, runID, userID string) (*store.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if userID != "" && run.UserID != userID {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", runID)
	}
	return run, nil
}
