package recipes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// Input helpers used by every recipe. Values arrive either straight from a
// request (strings, bools, float64) or from a stored run (JSON-decoded).

// StringInput returns inputs[key] as a trimmed string.
func StringInput(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultVal
	}
	switch s := v.(type) {
	case string:
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
		return defaultVal
	case fmt.Stringer:
		return s.String()
	case float64, int, int64, bool:
		return fmt.Sprint(s)
	default:
		return defaultVal
	}
}

// BoolInput accepts bools and the strings a form checkbox sends.
func BoolInput(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "yes", "1":
			return true
		case "false", "off", "no", "0", "":
			return false
		}
	}
	return defaultVal
}

// IntInput accepts numbers and numeric strings. Fractions are truncated.
func IntInput(m map[string]any, key string, defaultVal int) int {
	if f, ok := number(m[key]); ok {
		return int(f)
	}
	return defaultVal
}

// FloatInput accepts numbers and numeric strings.
func FloatInput(m map[string]any, key string, defaultVal float64) float64 {
	if f, ok := number(m[key]); ok {
		return f
	}
	return defaultVal
}

// number reads the numeric shapes a form post, a JSON body or a stored run
// can produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// LinesInput splits a textarea into trimmed, non-empty lines.
func LinesInput(m map[string]any, key string) []string {
	raw := StringInput(m, key, "")
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// DecodeInput converts inputs[key] into out through JSON, so structured
// values survive a round trip through the store.
func DecodeInput(m map[string]any, key string, out any) error {
	v, ok := m[key]
	if !ok || v == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "missing input %q", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "input %q: %v", key, err).WithCause(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "input %q has the wrong shape", key).WithCause(err)
	}
	return nil
}

// ApprovedScenes returns the scenes the approval gate carried into phase two.
func ApprovedScenes(m map[string]any) ([]schema.Scene, error) {
	var scenes []schema.Scene
	if err := DecodeInput(m, schema.InputApprovedScenes, &scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// ScriptOutputs returns the phase-one outputs carried into phase two.
func ScriptOutputs(m map[string]any) []schema.OutputItem {
	var outputs []schema.OutputItem
	if err := DecodeInput(m, schema.InputScriptOutputs, &outputs); err != nil {
		return nil
	}
	return outputs
}
