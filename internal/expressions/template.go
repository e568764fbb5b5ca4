package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// TemplateNamespaces are the roots a prompt template may reference.
var TemplateNamespaces = []string{"inputs", "brand", "persona", "recipe"}

// RenderTemplate resolves ${{namespace.path}} references in a prompt template.
//
// A path that is missing inside a known namespace renders as an empty string,
// since most recipe fields are optional. Unknown namespaces, unclosed markers
// and nested markers are errors.
func RenderTemplate(tmpl string, scope map[string]any) (string, error) {
	var result strings.Builder
	result.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		idx := strings.Index(tmpl[i:], "${{")
		if idx == -1 {
			result.WriteString(tmpl[i:])
			break
		}
		result.WriteString(tmpl[i : i+idx])
		start := i + idx + 3

		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed ${{ expression")
		}
		end += start

		ref := strings.TrimSpace(tmpl[start:end])
		if strings.Contains(ref, "${{") {
			return "", schema.NewError(schema.ErrCodeValidation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if ref == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{  }}")
		}

		val, err := resolveRef(ref, scope)
		if err != nil {
			return "", err
		}
		result.WriteString(inline(val))
		i = end + 2
	}
	return result.String(), nil
}

func resolveRef(ref string, scope map[string]any) (any, error) {
	parts := strings.SplitN(ref, ".", 2)
	namespace := parts[0]
	known := false
	for _, ns := range TemplateNamespaces {
		if ns == namespace {
			known = true
			break
		}
	}
	if !known {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, ref, strings.Join(TemplateNamespaces, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": TemplateNamespaces})
	}
	root := scope[namespace]
	if len(parts) == 1 {
		return root, nil
	}
	return traversePath(root, parts[1]), nil
}

// traversePath navigates nested maps with a dot-delimited path.
// A direct key lookup wins so keys containing dots still resolve.
func traversePath(root any, path string) any {
	if m, ok := root.(map[string]any); ok {
		if val, ok := m[path]; ok {
			return val
		}
	}
	current := root
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[seg]
	}
	return current
}

// inline converts a resolved value into prompt text. Lists of strings join
// with ", "; other composite values are JSON-encoded.
func inline(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, float64, int, int64:
		return fmt.Sprint(v)
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return marshalInline(v)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", ")
	default:
		return marshalInline(v)
	}
}

func marshalInline(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
