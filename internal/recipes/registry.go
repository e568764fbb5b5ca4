package recipes

import (
	"log/slog"
	"sort"
)

// Registry indexes recipes by slug. It is built once at startup and never
// modified afterwards, so it is safe for concurrent use.
type Registry struct {
	bySlug map[string]Definition
	sorted []Definition
}

// NewRegistry indexes defs. When two definitions share a slug the first one
// wins and the duplicate is logged.
func NewRegistry(logger *slog.Logger, defs ...Definition) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{bySlug: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d == nil {
			continue
		}
		meta := d.Meta()
		if meta.Slug == "" {
			logger.Warn("recipe without slug ignored", "name", meta.Name)
			continue
		}
		if existing, ok := r.bySlug[meta.Slug]; ok {
			logger.Warn("duplicate recipe slug",
				"slug", meta.Slug,
				"kept", existing.Meta().Name,
				"ignored", meta.Name,
			)
			continue
		}
		r.bySlug[meta.Slug] = d
		r.sorted = append(r.sorted, d)
	}
	sort.SliceStable(r.sorted, func(i, j int) bool {
		a, b := r.sorted[i].Meta(), r.sorted[j].Meta()
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Name < b.Name
	})
	return r
}

// Get resolves a slug regardless of the active flag, so historical runs of
// stub recipes still find their definition.
func (r *Registry) Get(slug string) (Definition, bool) {
	d, ok := r.bySlug[slug]
	return d, ok
}

// List returns definitions sorted by category then name.
func (r *Registry) List(includeInactive bool) []Definition {
	out := make([]Definition, 0, len(r.sorted))
	for _, d := range r.sorted {
		if includeInactive || d.Meta().Active {
			out = append(out, d)
		}
	}
	return out
}

// Count returns len(List(includeInactive)).
func (r *Registry) Count(includeInactive bool) int {
	if includeInactive {
		return len(r.sorted)
	}
	n := 0
	for _, d := range r.sorted {
		if d.Meta().Active {
			n++
		}
	}
	return n
}
