// Package mcp exposes the recipe engine as MCP tools so agents can browse
// recipes, start runs, approve scripts and poll results.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/internal/streaming"
)

// RecipeServerDeps holds the dependencies for creating a RecipeServer.
type RecipeServerDeps struct {
	Engine engine.Engine
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// RecipeServer wraps an MCP server with recipe tool handlers.
type RecipeServer struct {
	engine    engine.Engine
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *MCPNotifier
	mcpServer *server.MCPServer
}

// NewRecipeServer creates a RecipeServer with all tools registered.
func NewRecipeServer(deps RecipeServerDeps) *RecipeServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &RecipeServer{
		engine:   deps.Engine,
		hub:      deps.Hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"recipe-engine",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Recipe engine runs AI content recipes. Use recipes.list to browse, recipes.run to start a run, recipes.status to poll it, recipes.approve to continue a run waiting for script approval, recipes.cancel to stop it and recipes.history to list past runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Run events are pushed to the session that started the run.
func (s *RecipeServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		go func() {
			if err := s.notifier.Forward(ctx, s.hub); err != nil {
				s.logger.Warn("run notifications disabled", "error", err)
			}
		}()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *RecipeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *RecipeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: cancelTool(), Handler: s.handleCancel},
	}
}

// --- Tool definitions ---

func listTool() mcp.Tool {
	return mcp.NewTool("recipes.list",
		mcp.WithDescription("List the recipe library, or describe one recipe and its input fields"),
		mcp.WithString("slug", mcp.Description("Recipe slug to describe (omit to list all)")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("recipes.run",
		mcp.WithDescription("Start a recipe run"),
		mcp.WithString("recipe", mcp.Required(), mcp.Description("Slug of the recipe to run")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User the run belongs to")),
		mcp.WithObject("inputs", mcp.Description("Form inputs keyed by field name")),
		mcp.WithString("brand_id", mcp.Description("Brand profile to apply")),
		mcp.WithString("persona_id", mcp.Description("Persona to apply")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("recipes.status",
		mcp.WithDescription("Get the progress and outputs of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("user_id", mcp.Description("Restrict to this user's runs")),
		mcp.WithString("select", mcp.Description("jq expression applied to {\"outputs\": [...]}")),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("recipes.approve",
		mcp.WithDescription("Approve the script of a run waiting for approval"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithArray("scenes", mcp.Required(), mcp.Description("Scenes to produce: objects with scene_description, video_motion, ad_copy")),
		mcp.WithString("user_id", mcp.Description("Restrict to this user's runs")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("recipes.history",
		mcp.WithDescription("List a user's runs, newest first"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User whose runs to list")),
		mcp.WithString("recipe", mcp.Description("Filter by recipe slug")),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithNumber("page", mcp.Description("Page number, from 1")),
		mcp.WithNumber("page_size", mcp.Description("Runs per page (max 100)")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("recipes.cancel",
		mcp.WithDescription("Cancel a run that has not finished"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithString("user_id", mcp.Description("Restrict to this user's runs")),
	)
}
