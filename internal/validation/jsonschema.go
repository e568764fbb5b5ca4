package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/recipe-engine/internal/recipes"
	"github.com/rendis/recipe-engine/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const draft2020 = "https://json-schema.org/draft/2020-12/schema"

// JSONSchemaValidator checks input maps against JSON Schemas. Compiled
// schemas are kept for reuse.
type JSONSchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with an empty schema cache.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{cache: make(map[string]*jsonschema.Schema)}
}

// FieldSchema builds the JSON Schema describing a recipe's form fields.
// Required fields are not listed under "required"; presence is checked
// separately so the message can name the field label.
func FieldSchema(fields []recipes.FieldDescriptor, limits Limits) ([]byte, error) {
	limits = limits.withDefaults()
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f.Name] = fieldSchema(f, limits)
	}
	doc := map[string]any{
		"$schema":    draft2020,
		"type":       "object",
		"properties": props,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal field schema: %w", err)
	}
	return b, nil
}

func fieldSchema(f recipes.FieldDescriptor, limits Limits) map[string]any {
	switch f.Type {
	case recipes.FieldTextarea:
		return map[string]any{"type": "string", "maxLength": limits.MaxTextarea}
	case recipes.FieldSelect:
		s := map[string]any{"type": "string"}
		if len(f.Options) > 0 {
			s["enum"] = f.OptionValues()
		}
		return s
	case recipes.FieldNumber:
		s := map[string]any{"type": "number"}
		if f.Min != nil {
			s["minimum"] = *f.Min
		}
		if f.Max != nil {
			s["maximum"] = *f.Max
		}
		return s
	case recipes.FieldCheckbox:
		return map[string]any{"type": "boolean"}
	case recipes.FieldFile:
		return map[string]any{"type": "string", "minLength": 1}
	default:
		return map[string]any{"type": "string", "maxLength": limits.MaxText}
	}
}

// ValidateInput checks input against a raw JSON Schema and returns the
// violations as one validation error.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return v.check(input, inputSchema).ToError()
}

// check reports every schema violation in input as an issue.
func (v *JSONSchemaValidator) check(input map[string]any, inputSchema []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	switch {
	case input == nil:
		result.AddError("/", schema.ErrCodeValidation, "input is nil")
		return result
	case len(inputSchema) == 0:
		return result
	}

	compiled, err := v.compiled(inputSchema)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "invalid input schema: "+err.Error())
		return result
	}
	// The library wants json.Number for numbers, so the input takes a trip
	// through the encoder.
	raw, err := json.Marshal(input)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "input is not JSON: "+err.Error())
		return result
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "input is not JSON: "+err.Error())
		return result
	}

	err = compiled.Validate(doc)
	var verr *jsonschema.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		addViolations(result, verr)
	default:
		result.AddError("/", schema.ErrCodeValidation, err.Error())
	}
	return result
}

// compiled returns the compiled form of a schema, compiling it on first use.
// Schemas are keyed by content hash.
func (v *JSONSchemaValidator) compiled(text []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(text)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	s, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := "recipe://input-schema/" + key[:16]
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err = c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.cache[key]; ok {
		return existing, nil
	}
	v.cache[key] = s
	return s, nil
}

// addViolations records the leaves of a ValidationError tree, which are the
// concrete failures, at their instance locations.
func addViolations(result *schema.ValidationResult, verr *jsonschema.ValidationError) {
	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			addViolations(result, cause)
		}
		return
	}
	path := "/" + strings.Join(verr.InstanceLocation, "/")
	result.AddError(path, schema.ErrCodeValidation, leafMessage(verr.Error()))
}

// leafMessage strips the location prefix from a leaf error, so
// "- at '/count': value must be one of ..." reads "value must be one of ...".
func leafMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = strings.TrimSpace(msg[i+1:])
	}
	msg = strings.TrimPrefix(msg, "- ")
	if rest, ok := strings.CutPrefix(msg, "at '"); ok {
		if _, after, found := strings.Cut(rest, "': "); found {
			return after
		}
	}
	return msg
}
