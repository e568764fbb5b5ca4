package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// handleList returns the recipe library, or one recipe when slug is given.
func (s *RecipeServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if slug := req.GetString("slug", ""); slug != "" {
		info, err := s.engine.Recipe(ctx, slug)
		if err != nil {
			return toolError("recipe lookup failed", err), nil
		}
		return marshalResult(info)
	}
	lib, err := s.engine.Library(ctx)
	if err != nil {
		return toolError("library failed", err), nil
	}
	return marshalResult(lib)
}

// handleRun submits a new run.
func (s *RecipeServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recipe, err := req.RequireString("recipe")
	if err != nil {
		return mcp.NewToolResultError("recipe is required"), nil
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	s.captureSession(ctx, userID)

	run, err := s.engine.Submit(ctx, engine.SubmitRequest{
		Recipe:    recipe,
		UserID:    userID,
		BrandID:   req.GetString("brand_id", ""),
		PersonaID: req.GetString("persona_id", ""),
		Inputs:    mcp.ParseStringMap(req, "inputs", nil),
	})
	if err != nil {
		return toolError("run failed to start", err), nil
	}
	return marshalResult(map[string]any{
		"run_id":      run.ID,
		"status":      run.Status,
		"total_steps": run.TotalSteps,
	})
}

// handleStatus returns the polling view of a run.
func (s *RecipeServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	view, err := s.engine.Status(ctx, runID, engine.StatusOptions{
		UserID: req.GetString("user_id", ""),
		Select: req.GetString("select", ""),
	})
	if err != nil {
		return toolError("status query failed", err), nil
	}
	return marshalResult(view)
}

// handleApprove resumes a run waiting for approval.
func (s *RecipeServer) handleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	scenes, err := parseScenes(req.GetArguments()["scenes"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID := req.GetString("user_id", "")
	if userID != "" {
		s.captureSession(ctx, userID)
	}

	run, err := s.engine.Approve(ctx, engine.ApproveRequest{RunID: runID, UserID: userID, Scenes: scenes})
	if err != nil {
		return toolError("approval failed", err), nil
	}
	return marshalResult(map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	})
}

// handleHistory lists a user's runs.
func (s *RecipeServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	page, err := s.engine.History(ctx, engine.HistoryQuery{
		UserID:   userID,
		Recipe:   req.GetString("recipe", ""),
		Status:   req.GetString("status", ""),
		Page:     req.GetInt("page", 1),
		PageSize: req.GetInt("page_size", engine.DefaultPageSize),
	})
	if err != nil {
		return toolError("history query failed", err), nil
	}
	return marshalResult(page)
}

// handleCancel stops a run.
func (s *RecipeServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	run, err := s.engine.Cancel(ctx, runID, req.GetString("user_id", ""))
	if err != nil {
		return toolError("cancel failed", err), nil
	}
	return marshalResult(map[string]any{
		"ok":     true,
		"run_id": run.ID,
		"status": run.Status,
	})
}

// parseScenes decodes the scenes argument through JSON so both typed and
// loosely built arguments are accepted.
func parseScenes(raw any) ([]schema.Scene, error) {
	if raw == nil {
		return nil, errors.New("scenes is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid scenes: %w", err)
	}
	var scenes []schema.Scene
	if err := json.Unmarshal(data, &scenes); err != nil {
		return nil, fmt.Errorf("scenes must be a list of scene objects: %w", err)
	}
	return scenes, nil
}

// captureSession maps the user to the calling session for notifications.
func (s *RecipeServer) captureSession(ctx context.Context, userID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(userID, session.SessionID())
	}
}

// toolError turns an engine error into a tool error result carrying its code.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, engErr.Code, engErr.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
