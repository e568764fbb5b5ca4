package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// ruleCostLimit stops runaway rules such as comprehensions over large
// inputs.
const ruleCostLimit = 100_000

// RuleScope is what a submission rule can see. Nil maps read as empty, so
// `!has(brand.name)` holds when no brand was chosen.
type RuleScope struct {
	Inputs  map[string]any
	Recipe  map[string]any
	Brand   map[string]any
	Persona map[string]any
}

func (s RuleScope) activation() map[string]any {
	orEmpty := func(m map[string]any) map[string]any {
		if m == nil {
			return map[string]any{}
		}
		return m
	}
	return map[string]any{
		"inputs":  orEmpty(s.Inputs),
		"recipe":  orEmpty(s.Recipe),
		"brand":   orEmpty(s.Brand),
		"persona": orEmpty(s.Persona),
	}
}

// CELEngine evaluates the cross-field submission rules recipes declare,
// for example `has(inputs.script) || has(inputs.brief)`.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]compiledRule
}

type compiledRule struct {
	prg cel.Program
	// boolish is false when the checker proved the result is not a bool.
	boolish bool
}

// NewCELEngine creates a rule engine whose environment declares inputs,
// recipe, brand and persona as map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	scope := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("inputs", scope),
		cel.Variable("recipe", scope),
		cel.Variable("brand", scope),
		cel.Variable("persona", scope),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: make(map[string]compiledRule)}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs an expression over data laid out like a RuleScope. Missing
// namespaces read as empty maps.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	scope := RuleScope{}
	scope.Inputs, _ = data["inputs"].(map[string]any)
	scope.Recipe, _ = data["recipe"].(map[string]any)
	scope.Brand, _ = data["brand"].(map[string]any)
	scope.Persona, _ = data["persona"].(map[string]any)
	return e.eval(ctx, expression, scope)
}

// Allows reports whether a rule holds for scope. Rules must produce a bool.
func (e *CELEngine) Allows(ctx context.Context, rule string, scope RuleScope) (bool, error) {
	out, err := e.eval(ctx, rule, scope)
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "rule %q returned %T, want bool", rule, out)
	}
	return ok, nil
}

// Compile checks that a rule parses, type-checks and can produce a bool.
func (e *CELEngine) Compile(rule string) error {
	c, err := e.program(rule)
	if err != nil {
		return err
	}
	if !c.boolish {
		return schema.NewErrorf(schema.ErrCodeValidation, "rule %q does not produce a bool", rule)
	}
	return nil
}

func (e *CELEngine) eval(ctx context.Context, expression string, scope RuleScope) (any, error) {
	c, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := c.prg.ContextEval(ctx, scope.activation())
	if err != nil {
		return nil, ruleError(schema.ErrCodeExecution, expression, "failed", err)
	}
	return out.Value(), nil
}

func (e *CELEngine) program(expression string) (compiledRule, error) {
	if expression == "" {
		return compiledRule{}, schema.NewError(schema.ErrCodeValidation, "rule is empty")
	}
	e.mu.RLock()
	c, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return compiledRule{}, ruleError(schema.ErrCodeValidation, expression, "does not compile", issues.Err())
	}
	prg, err := e.env.Program(ast, cel.CostLimit(ruleCostLimit), cel.InterruptCheckFrequency(100))
	if err != nil {
		return compiledRule{}, ruleError(schema.ErrCodeValidation, expression, "cannot be planned", err)
	}
	out := ast.OutputType().String()
	c = compiledRule{prg: prg, boolish: out == "bool" || out == "dyn"}

	e.mu.Lock()
	e.cache[expression] = c
	e.mu.Unlock()
	return c, nil
}

func ruleError(code, rule, what string, cause error) *schema.EngineError {
	return schema.NewErrorf(code, "rule %q %s: %s", rule, what, cause.Error()).
		WithCause(cause).
		WithDetails(map[string]any{"rule": rule})
}

var _ Engine = (*CELEngine)(nil)
