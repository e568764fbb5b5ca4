package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/recipe-engine/internal/expressions"
	"github.com/rendis/recipe-engine/internal/recipes"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// InputValidator runs the full submission check for a recipe: normalization,
// required fields, the field JSON Schema, CEL rules, then the recipe's own
// ValidateInputs. Later stages are skipped once an earlier one fails.
type InputValidator struct {
	*JSONSchemaValidator
	cel    *expressions.CELEngine
	limits Limits
}

// NewInputValidator creates an input validator. cel may be nil when no
// recipe declares rules.
func NewInputValidator(cel *expressions.CELEngine, limits Limits) *InputValidator {
	return &InputValidator{
		JSONSchemaValidator: NewJSONSchemaValidator(),
		cel:                 cel,
		limits:              limits.withDefaults(),
	}
}

// Validate returns the normalized inputs, or a VALIDATION_ERROR whose
// details list every issue.
func (v *InputValidator) Validate(ctx context.Context, def recipes.Definition, inputs map[string]any) (map[string]any, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "recipe definition is nil")
	}
	fields := def.Fields()

	normalized, result := Normalize(fields, inputs)
	if !result.Valid() {
		return nil, result.ToError()
	}

	fieldSchema, err := FieldSchema(fields, v.limits)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to build input schema").WithCause(err)
	}
	result.Merge(v.check(normalized, fieldSchema))
	if !result.Valid() {
		return nil, result.ToError()
	}

	result.Merge(v.checkRules(ctx, def, normalized))
	if !result.Valid() {
		return nil, result.ToError()
	}

	if err := def.ValidateInputs(normalized); err != nil {
		code := schema.ErrorCode(err)
		if code == "" {
			code = schema.ErrCodeValidation
		}
		result.AddError("/", code, errMessage(err))
		return nil, result.ToError()
	}
	return normalized, nil
}

// CheckRules compiles every rule the definitions declare so a broken rule
// fails at startup instead of on the first submission.
func (v *InputValidator) CheckRules(defs []recipes.Definition) error {
	var errs []error
	for _, def := range defs {
		for _, rule := range def.Rules() {
			if v.cel == nil {
				return errors.New("recipes declare rules but no rule engine is configured")
			}
			if err := v.cel.Compile(rule.Expression); err != nil {
				errs = append(errs, fmt.Errorf("recipe %s: %w", def.Meta().Slug, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (v *InputValidator) checkRules(ctx context.Context, def recipes.Definition, inputs map[string]any) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	rules := def.Rules()
	if len(rules) == 0 {
		return result
	}
	if v.cel == nil {
		result.AddError("/", schema.ErrCodeExecution, "rule engine not configured")
		return result
	}
	meta := def.Meta()
	scope := expressions.RuleScope{
		Inputs: inputs,
		Recipe: map[string]any{"slug": meta.Slug, "category": string(meta.Category)},
	}
	for _, rule := range rules {
		ok, err := v.cel.Allows(ctx, rule.Expression, scope)
		if err != nil {
			result.AddError("/", schema.ErrCodeValidation, fmt.Sprintf("rule %q: %s", rule.Expression, errMessage(err)))
			continue
		}
		if !ok {
			result.AddError("/", schema.ErrCodeValidation, rule.Message)
		}
	}
	return result
}

// Normalize applies field defaults, trims strings, drops empty values and
// undeclared keys, and coerces numbers and checkboxes from their form
// representation. Missing required fields are reported in the result.
//
// Values that cannot be coerced are kept as-is so the schema check reports
// them against the field.
func Normalize(fields []recipes.FieldDescriptor, raw map[string]any) (map[string]any, *schema.ValidationResult) {
	result := &schema.ValidationResult{}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		val, ok := normalizeValue(f, raw[f.Name])
		if !ok && f.Default != nil {
			val, ok = normalizeValue(f, f.Default)
		}
		if !ok && f.Type == recipes.FieldCheckbox {
			val, ok = false, true
		}
		if !ok {
			if f.Required {
				result.AddError("/"+f.Name, schema.ErrCodeValidation, fieldLabel(f)+" is required")
			}
			continue
		}
		out[f.Name] = val
	}
	return out, result
}

// normalizeValue reports false when v counts as absent.
func normalizeValue(f recipes.FieldDescriptor, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch f.Type {
	case recipes.FieldNumber:
		return normalizeNumber(v)
	case recipes.FieldCheckbox:
		return normalizeBool(v)
	default:
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case float64:
			s = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			s = fmt.Sprint(x)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		return s, true
	}
}

func normalizeNumber(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
		return n.String(), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		return s, true
	default:
		return v, true
	}
}

func normalizeBool(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "yes", "1":
			return true, true
		case "false", "off", "no", "0", "":
			return false, true
		}
		return b, true
	default:
		return v, true
	}
}

func fieldLabel(f recipes.FieldDescriptor) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func errMessage(err error) string {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.Message
	}
	return err.Error()
}

var _ Validator = (*InputValidator)(nil)
