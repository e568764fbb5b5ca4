package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/recipe-engine/pkg/schema"
)

const maxBodyBytes = 1 << 20

var bodyValidator = validator.New(validator.WithRequiredStructEnabled())

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	RunID   string         `json:"run_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeEngineError maps an engine error onto a status code.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	body := errorBody{Error: err.Error(), Code: schema.ErrorCode(err)}
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		body.Error = engErr.Message
		body.RunID = engErr.RunID
		body.Details = engErr.Details
	}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		body.Error = "internal error"
		body.Code = "INTERNAL"
	}
	writeJSON(w, status, body)
}

// HTTPStatus returns the status code for an engine error.
func HTTPStatus(err error) int {
	switch schema.ErrorCode(err) {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeExecution:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeRecipeDisabled:
		return http.StatusForbidden
	case schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeQueueFull:
		return http.StatusServiceUnavailable
	case schema.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body into v and checks its validate tags.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid JSON: %v", err)
	}
	if err := bodyValidator.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag())).WithCause(err)
		}
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	return nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
