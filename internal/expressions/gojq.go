package expressions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/recipe-engine/pkg/schema"
)

const (
	// maxSelectResults bounds how many values one selector may emit.
	maxSelectResults = 1000
	// maxCachedSelectors bounds the compiled selector cache; it is reset
	// when full since selectors come from clients.
	maxCachedSelectors = 256
)

// selectorVars are the variables every selector may reference besides the
// input document.
var selectorVars = []string{"$recipe", "$status"}

// SelectDoc is the run data a selector sees. The input document is
// {"outputs": [...]}; the recipe slug and run status are bound to $recipe
// and $status.
type SelectDoc struct {
	Recipe  string
	Status  string
	Outputs []schema.OutputItem
}

// GoJQEngine narrows run outputs with jq selectors, for example
// `[.outputs[] | select(.type == "image") | .url]`.
type GoJQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewGoJQEngine creates a selector engine with an empty cache.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: make(map[string]*gojq.Code)}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Select runs a selector over a run's outputs. A single value is returned
// as-is, several are returned as []any and no value returns nil.
func (e *GoJQEngine) Select(ctx context.Context, selector string, doc SelectDoc) (any, error) {
	input, err := outputsDocument(doc.Outputs)
	if err != nil {
		return nil, err
	}
	values, err := e.run(ctx, selector, input, doc.Recipe, doc.Status)
	if err != nil {
		return nil, err
	}
	return unwrap(values), nil
}

// Evaluate runs a selector against arbitrary JSON data with empty run
// variables.
func (e *GoJQEngine) Evaluate(ctx context.Context, selector string, data map[string]any) (any, error) {
	values, err := e.run(ctx, selector, data, "", "")
	if err != nil {
		return nil, err
	}
	return unwrap(values), nil
}

// EvaluateAll is Evaluate without unwrapping: the result is always a slice.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, selector string, data map[string]any) ([]any, error) {
	return e.run(ctx, selector, data, "", "")
}

func (e *GoJQEngine) run(ctx context.Context, selector string, input any, recipe, status string) ([]any, error) {
	if selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "selector is empty")
	}
	code, err := e.compiled(selector)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, input, recipe, status)
	var values []any
	for {
		v, ok := iter.Next()
		if !ok {
			return values, nil
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return values, nil
			}
			return nil, selectorError(schema.ErrCodeExecution, selector, "failed", err)
		}
		if len(values) == maxSelectResults {
			return nil, selectorError(schema.ErrCodeExecution, selector, "failed",
				fmt.Errorf("emits more than %d values", maxSelectResults))
		}
		values = append(values, v)
	}
}

func (e *GoJQEngine) compiled(selector string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.cache[selector]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, selectorError(schema.ErrCodeValidation, selector, "does not parse", err)
	}
	code, err = gojq.Compile(query,
		gojq.WithVariables(selectorVars),
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, selectorError(schema.ErrCodeValidation, selector, "does not compile", err)
	}

	e.mu.Lock()
	if len(e.cache) >= maxCachedSelectors {
		e.cache = make(map[string]*gojq.Code)
	}
	e.cache[selector] = code
	e.mu.Unlock()
	return code, nil
}

// outputsDocument converts outputs to the plain JSON values gojq accepts.
func outputsDocument(outputs []schema.OutputItem) (map[string]any, error) {
	if outputs == nil {
		outputs = []schema.OutputItem{}
	}
	raw, err := json.Marshal(map[string]any{"outputs": outputs})
	if err != nil {
		return nil, fmt.Errorf("encode outputs: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	return doc, nil
}

func unwrap(values []any) any {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	default:
		return values
	}
}

func selectorError(code, selector, what string, cause error) *schema.EngineError {
	return schema.NewErrorf(code, "selector %q %s: %s", selector, what, cause.Error()).
		WithCause(cause).
		WithDetails(map[string]any{"selector": selector})
}

var _ Engine = (*GoJQEngine)(nil)
