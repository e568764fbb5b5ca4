package logging

import (
	"context"
	"log/slog"
)

// Correlation identifies the run a log line belongs to.
type Correlation struct {
	RunID  string
	Recipe string
	UserID string
	// Phase is "script" or "production" for two-phase recipes.
	Phase string
}

type correlationKey struct{}

// FromContext returns the correlation carried by ctx, zero if none.
func FromContext(ctx context.Context) Correlation {
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

// WithCorrelation merges c into the correlation on ctx. Empty fields of c
// keep the value already present.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	cur := FromContext(ctx)
	if c.RunID != "" {
		cur.RunID = c.RunID
	}
	if c.Recipe != "" {
		cur.Recipe = c.Recipe
	}
	if c.UserID != "" {
		cur.UserID = c.UserID
	}
	if c.Phase != "" {
		cur.Phase = c.Phase
	}
	return context.WithValue(ctx, correlationKey{}, cur)
}

// WithIDs sets the run, recipe and user on ctx. Empty arguments leave the
// current value.
func WithIDs(ctx context.Context, runID, recipe, userID string) context.Context {
	return WithCorrelation(ctx, Correlation{RunID: runID, Recipe: recipe, UserID: userID})
}

// WithUserID sets the user on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return WithCorrelation(ctx, Correlation{UserID: userID})
}

// WithPhase sets the recipe phase on ctx.
func WithPhase(ctx context.Context, phase string) context.Context {
	return WithCorrelation(ctx, Correlation{Phase: phase})
}

func (c Correlation) attrs() []slog.Attr {
	out := make([]slog.Attr, 0, 4)
	for _, kv := range [...]struct{ key, val string }{
		{"run_id", c.RunID},
		{"recipe", c.Recipe},
		{"user_id", c.UserID},
		{"phase", c.Phase},
	} {
		if kv.val != "" {
			out = append(out, slog.String(kv.key, kv.val))
		}
	}
	return out
}

// CorrelationHandler adds the run correlation on the record's context to
// every record, so code logs with logger.InfoContext(ctx, ...) and never
// passes run ids by hand.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(FromContext(ctx).attrs()...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
