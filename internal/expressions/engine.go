package expressions

import "context"

// Engine is the part the three expression languages share. CEL checks
// submission rules, Expr prices runs and jq selects run outputs; each keeps
// its own compiled-program cache keyed by source text.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
