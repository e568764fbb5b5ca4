package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecipeServer(t *testing.T) {
	s := NewRecipeServer(RecipeServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewRecipeServer(RecipeServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 6)

	for _, name := range []string{
		"recipes.list",
		"recipes.run",
		"recipes.status",
		"recipes.approve",
		"recipes.history",
		"recipes.cancel",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"recipes.run", "Start a recipe run"},
		{"recipes.status", "Get the progress and outputs of a run"},
		{"recipes.approve", "Approve the script of a run waiting for approval"},
		{"recipes.cancel", "Cancel a run that has not finished"},
	}

	s := NewRecipeServer(RecipeServerDeps{})
	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
