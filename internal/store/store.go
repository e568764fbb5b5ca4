package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	CountRuns(ctx context.Context, filter RunFilter) (int, error)

	// ReapRuns fails every running run whose start predates cutoff, in one
	// transaction, and returns the runs it changed. A running row without a
	// start time is aged from created_at.
	ReapRuns(ctx context.Context, cutoff time.Time, message string, now time.Time) ([]*Run, error)

	// Run transition log (append-only)
	AppendRunEvent(ctx context.Context, event *RunEvent) error
	ListRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error)

	// Recipe catalog
	UpsertCatalogRow(ctx context.Context, row *CatalogRow) error
	GetCatalogRow(ctx context.Context, slug string) (*CatalogRow, error)
	IncrementUsage(ctx context.Context, slug string) error
	ListCatalog(ctx context.Context) ([]*CatalogRow, error)

	// Brand and persona context
	CreateBrand(ctx context.Context, brand *Brand) error
	GetBrand(ctx context.Context, id string) (*Brand, error)
	CreatePersona(ctx context.Context, persona *Persona) error
	GetPersona(ctx context.Context, id string) (*Persona, error)

	// Scheduled runs
	CreateScheduledRun(ctx context.Context, job *ScheduledRun) error
	GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error)
	DeleteScheduledRun(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
