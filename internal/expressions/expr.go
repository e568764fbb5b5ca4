package expressions

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// PriceFunc returns the retail price of one asset of model from provider.
type PriceFunc func(model, provider string) float64

// ExprEngine evaluates recipe cost formulas written in expr, such as
// `int(inputs.count ?? 1) * price("nano-banana-pro", "google")`. Cost
// formulas reach input fields through the inputs map, so a field name never
// collides with an expr builtin like count or len. price is a function bound
// at construction. An input the user left empty evaluates to nil, so
// formulas use ?? for defaults.
type ExprEngine struct {
	price PriceFunc

	mu    sync.RWMutex
	cache map[string]*vm.Program
	costs map[string]*vm.Program
}

// NewExprEngine creates a formula engine. A nil price prices everything at
// zero.
func NewExprEngine(price PriceFunc) *ExprEngine {
	if price == nil {
		price = func(string, string) float64 { return 0 }
	}
	return &ExprEngine{price: price, cache: make(map[string]*vm.Program), costs: make(map[string]*vm.Program)}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs a formula with data as its variables and returns the raw
// result.
func (e *ExprEngine) Evaluate(_ context.Context, formula string, data map[string]any) (any, error) {
	prg, err := e.program(formula)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, formulaError(schema.ErrCodeExecution, formula, "failed", err)
	}
	return out, nil
}

// CheckCostFormula compiles a cost formula. The only variable it may name
// is inputs, so a bare field name is rejected here rather than at estimate
// time.
func (e *ExprEngine) CheckCostFormula(formula string) error {
	_, err := e.costProgram(formula)
	return err
}

// Cost runs a formula that must produce a finite, non-negative amount.
func (e *ExprEngine) Cost(_ context.Context, formula string, inputs map[string]any) (float64, error) {
	prg, err := e.costProgram(formula)
	if err != nil {
		return 0, err
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	out, err := vm.Run(prg, map[string]any{"inputs": inputs})
	if err != nil {
		return 0, formulaError(schema.ErrCodeExecution, formula, "failed", err)
	}
	var amount float64
	switch v := out.(type) {
	case float64:
		amount = v
	case int:
		amount = float64(v)
	case int64:
		amount = float64(v)
	default:
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"cost formula %q returned %T, want a number", formula, out)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"cost formula %q returned %v", formula, amount)
	}
	return amount, nil
}

func (e *ExprEngine) program(formula string) (*vm.Program, error) {
	return e.compile(e.cache, formula,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
}

func (e *ExprEngine) costProgram(formula string) (*vm.Program, error) {
	return e.compile(e.costs, formula,
		expr.Env(map[string]any{"inputs": map[string]any{}}),
	)
}

func (e *ExprEngine) compile(cache map[string]*vm.Program, formula string, opts ...expr.Option) (*vm.Program, error) {
	if formula == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "formula is empty")
	}
	e.mu.RLock()
	prg, ok := cache[formula]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	opts = append(opts, expr.Function("price", e.callPrice, new(func(string, string) float64)))
	prg, err := expr.Compile(formula, opts...)
	if err != nil {
		return nil, formulaError(schema.ErrCodeValidation, formula, "does not compile", err)
	}

	e.mu.Lock()
	cache[formula] = prg
	e.mu.Unlock()
	return prg, nil
}

func (e *ExprEngine) callPrice(params ...any) (any, error) {
	model, ok1 := params[0].(string)
	provider, ok2 := params[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("price(model, provider) takes two strings, got %T and %T", params[0], params[1])
	}
	return e.price(model, provider), nil
}

func formulaError(code, formula, what string, cause error) *schema.EngineError {
	return schema.NewErrorf(code, "formula %q %s: %s", formula, what, cause.Error()).
		WithCause(cause).
		WithDetails(map[string]any{"formula": formula})
}

var _ Engine = (*ExprEngine)(nil)
