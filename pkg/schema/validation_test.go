package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	var nilResult *ValidationResult
	assert.True(t, nilResult.Valid())
	assert.True(t, (&ValidationResult{}).Valid())
	assert.Nil(t, (&ValidationResult{}).ToError())
}

func TestValidationResult_AddErrorResolvesField(t *testing.T) {
	tests := []struct {
		path, field string
	}{
		{"/prompt", "prompt"},
		{"/scenes/0", "scenes"},
		{"/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := &ValidationResult{}
			r.AddError(tt.path, ErrCodeValidation, "bad")
			require.Len(t, r.Errors, 1)
			assert.Equal(t, tt.field, r.Errors[0].Field)
			assert.Equal(t, tt.path, r.Errors[0].Path)
		})
	}
}

func TestValidationResult_MergeAndFields(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/prompt", ErrCodeValidation, "Prompt is required")

	r2 := &ValidationResult{}
	r2.AddError("/prompt", ErrCodeValidation, "Prompt is too long")
	r2.AddError("/count", ErrCodeValidation, "Count must be at most 4")
	r2.AddError("/", ErrCodeValidation, "rule failed")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 4)
	assert.Equal(t, map[string]string{
		"prompt": "Prompt is required",
		"count":  "Count must be at most 4",
	}, r1.Fields())
}

func TestValidationResult_ToError_SingleIssue(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/prompt", ErrCodeValidation, "Prompt is required")

	err := r.ToError()
	require.Error(t, err)

	engErr, ok := err.(*EngineError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeValidation, engErr.Code)
	assert.Equal(t, "Prompt is required", engErr.Message)
	assert.Equal(t, 1, engErr.Details["error_count"])
	assert.Equal(t, map[string]string{"prompt": "Prompt is required"}, engErr.Details["fields"])
}

func TestValidationResult_ToError_ManyIssues(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/prompt", ErrCodeValidation, "Prompt is required")
	r.AddError("/style", ErrCodeValidation, "Style is required")

	engErr, ok := r.ToError().(*EngineError)
	require.True(t, ok)
	assert.Equal(t, "2 input problems: Prompt is required; Style is required", engErr.Message)
	assert.Equal(t, 2, engErr.Details["error_count"])
}

func TestValidationResult_ToError_KeepsFirstCode(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("/", ErrCodeExecution, "rule engine not configured")

	assert.True(t, IsCode(r.ToError(), ErrCodeExecution))
}
