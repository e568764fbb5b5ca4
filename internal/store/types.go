package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// Run is the persisted record of one recipe execution.
type Run struct {
	ID               string              `json:"id"`
	RecipeSlug       string              `json:"recipe"`
	UserID           string              `json:"user_id"`
	BrandID          string              `json:"brand_id,omitempty"`
	PersonaID        string              `json:"persona_id,omitempty"`
	Status           schema.RunStatus    `json:"status"`
	StepsCompleted   int                 `json:"steps_completed"`
	TotalSteps       int                 `json:"total_steps"`
	CurrentStepLabel string              `json:"current_step_label"`
	Inputs           map[string]any      `json:"inputs,omitempty"`
	Outputs          []schema.OutputItem `json:"outputs,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	Cost             float64             `json:"cost"`
	RetailCost       float64             `json:"retail_cost"`
	ModelUsed        string              `json:"model_used,omitempty"`
	ScheduleID       string              `json:"schedule_id,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// CatalogRow mirrors a Definition's metadata for admin toggles and usage counts.
type CatalogRow struct {
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Enabled     bool      `json:"enabled"`
	UsageCount  int       `json:"usage_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Brand is the brand identity a run can be generated for.
type Brand struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	Tagline         string    `json:"tagline,omitempty"`
	Colors          []string  `json:"colors,omitempty"`
	Voice           string    `json:"voice,omitempty"`
	TargetAudience  string    `json:"target_audience,omitempty"`
	ContentPillars  []string  `json:"content_pillars,omitempty"`
	VisualStyle     string    `json:"visual_style,omitempty"`
	NeverDo         string    `json:"never_do,omitempty"`
	Hashtags        []string  `json:"hashtags,omitempty"`
	CaptionTemplate string    `json:"caption_template,omitempty"`
	BrandDoc        string    `json:"brand_doc,omitempty"`
	LogoPath        string    `json:"logo_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Persona is the writing voice a run can be generated in.
type Persona struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	Tone              string    `json:"tone,omitempty"`
	VoiceStyle        string    `json:"voice_style,omitempty"`
	Bio               string    `json:"bio,omitempty"`
	Industry          string    `json:"industry,omitempty"`
	TargetAudience    string    `json:"target_audience,omitempty"`
	WritingGuidelines string    `json:"writing_guidelines,omitempty"`
	SamplePhrases     []string  `json:"sample_phrases,omitempty"`
	BrandKeywords     []string  `json:"brand_keywords,omitempty"`
	AvoidWords        []string  `json:"avoid_words,omitempty"`
	PromptSummary     string    `json:"prompt_summary,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ScheduledRun is a cron-triggered recipe submission.
type ScheduledRun struct {
	ID             string           `json:"id"`
	RecipeSlug     string           `json:"recipe"`
	UserID         string           `json:"user_id"`
	BrandID        string           `json:"brand_id,omitempty"`
	PersonaID      string           `json:"persona_id,omitempty"`
	Inputs         map[string]any   `json:"inputs,omitempty"`
	CronExpression string           `json:"cron_expression"`
	Enabled        bool             `json:"enabled"`
	LastRunAt      *time.Time       `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time       `json:"next_run_at,omitempty"`
	LastRunStatus  schema.RunStatus `json:"last_run_status,omitempty"`
	LastRunID      string           `json:"last_run_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	UserID     string            `json:"user_id,omitempty"`
	RecipeSlug string            `json:"recipe,omitempty"`
	Status     *schema.RunStatus `json:"status,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run. Nil fields are left unchanged.
//
// When OnlyFrom is non-empty the update applies only while the stored status
// is one of those values; otherwise it fails with a CONFLICT error.
type RunUpdate struct {
	Status           *schema.RunStatus   `json:"status,omitempty"`
	StepsCompleted   *int                `json:"steps_completed,omitempty"`
	CurrentStepLabel *string             `json:"current_step_label,omitempty"`
	Inputs           map[string]any      `json:"inputs,omitempty"`
	Outputs          []schema.OutputItem `json:"outputs,omitempty"`
	ErrorMessage     *string             `json:"error_message,omitempty"`
	Cost             *float64            `json:"cost,omitempty"`
	RetailCost       *float64            `json:"retail_cost,omitempty"`
	ModelUsed        *string             `json:"model_used,omitempty"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	OnlyFrom         []schema.RunStatus  `json:"-"`
}

// ScheduledRunUpdate specifies mutable fields of a scheduled run.
type ScheduledRunUpdate struct {
	Enabled       *bool             `json:"enabled,omitempty"`
	LastRunAt     *time.Time        `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time        `json:"next_run_at,omitempty"`
	LastRunStatus *schema.RunStatus `json:"last_run_status,omitempty"`
	LastRunID     *string           `json:"last_run_id,omitempty"`
}

// ScheduledRunFilter specifies criteria for listing scheduled runs.
type ScheduledRunFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// RunEvent is an immutable entry in a run's transition log.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}
