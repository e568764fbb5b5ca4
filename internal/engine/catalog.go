package engine

import (
	"context"
	"fmt"

	"github.com/rendis/recipe-engine/internal/recipes"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// RecipeSummary is one card of the library.
type RecipeSummary struct {
	Slug             string           `json:"slug"`
	Name             string           `json:"name"`
	ShortDescription string           `json:"short_description,omitempty"`
	Icon             string           `json:"icon,omitempty"`
	EstimatedCost    string           `json:"estimated_cost,omitempty"`
	Category         recipes.Category `json:"category"`
	TwoPhase         bool             `json:"two_phase,omitempty"`
	UsageCount       int              `json:"usage_count"`
}

// CategoryGroup is the library's recipes of one category, in registry order.
type CategoryGroup struct {
	Category recipes.Category `json:"category"`
	Recipes  []RecipeSummary  `json:"recipes"`
}

// LibraryView is the recipe library.
type LibraryView struct {
	Categories  []CategoryGroup `json:"categories"`
	ActiveCount int             `json:"active_count"`
}

// RecipeInfo describes one recipe and its form.
type RecipeInfo struct {
	recipes.Metadata
	Fields     []recipes.FieldDescriptor `json:"fields"`
	Steps      []string                  `json:"steps"`
	Rules      []recipes.Rule            `json:"rules,omitempty"`
	Enabled    bool                      `json:"enabled"`
	UsageCount int                       `json:"usage_count"`
}

// syncCatalog makes the catalog row of def mirror its metadata, creating it
// on first sight. Enabled follows the definition's Active flag.
func (e *engineImpl) syncCatalog(ctx context.Context, def recipes.Definition) (*store.CatalogRow, error) {
	slug := def.Meta().Slug
	row, err := e.store.GetCatalogRow(ctx, slug)
	if err != nil && !schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, fmt.Errorf("read catalog row %s: %w", slug, err)
	}
	return e.reconcileRow(ctx, def, row)
}

// reconcileRow writes the row for def when current is missing or stale.
func (e *engineImpl) reconcileRow(ctx context.Context, def recipes.Definition, current *store.CatalogRow) (*store.CatalogRow, error) {
	meta := def.Meta()
	want := &store.CatalogRow{
		Slug:        meta.Slug,
		Name:        meta.Name,
		Description: meta.ShortDescription,
		Category:    string(meta.Category),
		Enabled:     meta.Active,
	}
	if current != nil {
		want.UsageCount = current.UsageCount
		want.CreatedAt = current.CreatedAt
		want.UpdatedAt = current.UpdatedAt
		if current.Name == want.Name && current.Description == want.Description &&
			current.Category == want.Category && current.Enabled == want.Enabled {
			return current, nil
		}
	}
	if err := e.store.UpsertCatalogRow(ctx, want); err != nil {
		return nil, fmt.Errorf("sync catalog row %s: %w", meta.Slug, err)
	}
	e.logger.DebugContext(ctx, "catalog row synced", "recipe", meta.Slug, "enabled", want.Enabled)
	return want, nil
}

// SyncCatalog reconciles the row of every registered recipe, active or not,
// and returns the rows by slug.
func (e *engineImpl) SyncCatalog(ctx context.Context) (map[string]*store.CatalogRow, error) {
	existing, err := e.store.ListCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	bySlug := make(map[string]*store.CatalogRow, len(existing))
	for _, row := range existing {
		bySlug[row.Slug] = row
	}
	rows := make(map[string]*store.CatalogRow, e.registry.Count(true))
	for _, def := range e.registry.List(true) {
		row, err := e.reconcileRow(ctx, def, bySlug[def.Meta().Slug])
		if err != nil {
			return nil, err
		}
		rows[row.Slug] = row
	}
	return rows, nil
}

// resolveActive looks up slug and syncs its catalog row, so a recipe that
// was switched off is disabled on its next access. Unknown and inactive
// slugs are NOT_FOUND.
func (e *engineImpl) resolveActive(ctx context.Context, slug string) (recipes.Definition, *store.CatalogRow, error) {
	def, ok := e.registry.Get(slug)
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "recipe %q not found", slug)
	}
	row, err := e.syncCatalog(ctx, def)
	if err != nil {
		return nil, nil, err
	}
	if !def.Meta().Active {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound, "recipe %q not found", slug)
	}
	return def, row, nil
}

// Library lists active, enabled recipes grouped by category. A reaper sweep
// runs first so stale runs are settled whenever the library is opened.
func (e *engineImpl) Library(ctx context.Context) (*LibraryView, error) {
	e.reapQuietly(ctx)

	rows, err := e.SyncCatalog(ctx)
	if err != nil {
		return nil, err
	}
	view := &LibraryView{Categories: []CategoryGroup{}}
	index := make(map[recipes.Category]int)
	for _, def := range e.registry.List(false) {
		row := rows[def.Meta().Slug]
		if row == nil || !row.Enabled {
			continue
		}
		meta := def.Meta()
		i, ok := index[meta.Category]
		if !ok {
			i = len(view.Categories)
			index[meta.Category] = i
			view.Categories = append(view.Categories, CategoryGroup{Category: meta.Category})
		}
		view.Categories[i].Recipes = append(view.Categories[i].Recipes, RecipeSummary{
			Slug:             meta.Slug,
			Name:             meta.Name,
			ShortDescription: meta.ShortDescription,
			Icon:             meta.Icon,
			EstimatedCost:    meta.EstimatedCost,
			Category:         meta.Category,
			TwoPhase:         meta.TwoPhase,
			UsageCount:       row.UsageCount,
		})
		view.ActiveCount++
	}
	return view, nil
}

// Recipe describes an active recipe. Inactive and unknown slugs are NOT_FOUND.
func (e *engineImpl) Recipe(ctx context.Context, slug string) (*RecipeInfo, error) {
	def, row, err := e.resolveActive(ctx, slug)
	if err != nil {
		return nil, err
	}
	return &RecipeInfo{
		Metadata:   def.Meta(),
		Fields:     def.Fields(),
		Steps:      def.Steps(),
		Rules:      def.Rules(),
		Enabled:    row.Enabled,
		UsageCount: row.UsageCount,
	}, nil
}
