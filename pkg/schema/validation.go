package schema

import (
	"fmt"
	"strings"
)

// FieldIssue is one problem found in a submission, tied to the input field
// it concerns. Field is empty for problems with the submission as a whole.
type FieldIssue struct {
	Field   string `json:"field,omitempty"`
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects the issues found while checking recipe inputs.
type ValidationResult struct {
	Errors []FieldIssue `json:"errors,omitempty"`
}

// Valid reports whether no issue was recorded.
func (r *ValidationResult) Valid() bool {
	return r == nil || len(r.Errors) == 0
}

// AddError records an issue at a JSON pointer path. "/prompt" and
// "/prompt/0" both resolve to the prompt field; "/" is the whole form.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, FieldIssue{
		Field:   fieldOf(path),
		Path:    path,
		Code:    code,
		Message: message,
	})
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
}

// Fields maps each offending field to the first message recorded for it.
func (r *ValidationResult) Fields() map[string]string {
	out := make(map[string]string)
	if r == nil {
		return out
	}
	for _, issue := range r.Errors {
		if issue.Field == "" {
			continue
		}
		if _, seen := out[issue.Field]; !seen {
			out[issue.Field] = issue.Message
		}
	}
	return out
}

// ToError returns nil for a valid result. Otherwise it returns an
// EngineError carrying the first issue's code; a single issue becomes the
// message verbatim so it can be shown next to the form.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	first := r.Errors[0]
	code := first.Code
	if code == "" {
		code = ErrCodeValidation
	}

	msg := first.Message
	if n := len(r.Errors); n > 1 {
		msgs := make([]string, 0, n)
		for _, issue := range r.Errors {
			msgs = append(msgs, issue.Message)
		}
		msg = fmt.Sprintf("%d input problems: %s", n, strings.Join(msgs, "; "))
	}

	return NewError(code, msg).WithDetails(map[string]any{
		"error_count": len(r.Errors),
		"fields":      r.Fields(),
		"errors":      r.Errors,
	})
}

func fieldOf(path string) string {
	p := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
