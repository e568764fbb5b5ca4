package engine

import (
	"context"
	"fmt"

	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// HistoryQuery selects a page of a user's runs.
type HistoryQuery struct {
	UserID string `json:"user_id"`
	// Recipe filters by slug; an unknown slug is ignored.
	Recipe string `json:"recipe,omitempty"`
	// Status filters by status; an unknown status is ignored.
	Status   string `json:"status,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	Admin    bool   `json:"-"`
}

// HistoryPage is one page of runs, newest first.
type HistoryPage struct {
	Runs       []*RunView `json:"runs"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
}

// History returns a page of runs. A reaper sweep runs first so a run that
// hung shows up as failed rather than forever running.
func (e *engineImpl) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	e.reapQuietly(ctx)

	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	page := max(q.Page, 1)

	filter := e.historyFilter(q)
	total, err := e.store.CountRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	filter.Limit = size
	filter.Offset = (page - 1) * size
	runs, err := e.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	out := &HistoryPage{
		Runs:       make([]*RunView, 0, len(runs)),
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}
	for _, run := range runs {
		out.Runs = append(out.Runs, e.viewOf(run, q.Admin))
	}
	return out, nil
}

func (e *engineImpl) historyFilter(q HistoryQuery) store.RunFilter {
	f := store.RunFilter{UserID: q.UserID}
	if q.Recipe != "" {
		if _, ok := e.registry.Get(q.Recipe); ok {
			f.RecipeSlug = q.Recipe
		}
	}
	if q.Status != "" {
		if st := schema.RunStatus(q.Status); st.Valid() {
			f.Status = &st
		}
	}
	return f
}
