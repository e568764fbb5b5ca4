package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/recipe-engine/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the recipe tools over MCP stdio",
	Long:  "Serves recipes.list, recipes.run, recipes.status, recipes.approve, recipes.history and recipes.cancel on stdin/stdout. Logs go to stderr.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// stdout carries the protocol, so logs must not.
		cfg, logger, err := setup(os.Stderr, "text")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.shutdown()

		srv := mcp.NewRecipeServer(mcp.RecipeServerDeps{
			Engine: a.engine,
			Hub:    a.hub,
			Logger: logger,
		})
		return srv.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
