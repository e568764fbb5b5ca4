// Command recipe-engine runs the recipe execution engine: the HTTP API, the
// MCP stdio server and maintenance commands.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rendis/recipe-engine/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "recipe-engine",
	Short:         "Recipe execution engine",
	Long:          "Runs AI content recipes in the background, pauses two-phase recipes for script approval and reports progress to polling clients.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to settings.yaml (default: $RECIPE_ENGINE_HOME/settings.yaml)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the config and builds a logger writing to w.
func setup(w io.Writer, format string) (Config, *slog.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return Config{}, nil, err
	}
	if format == "" {
		format = cfg.LogFormat
	}
	return cfg, logging.New(w, cfg.LogLevel, format), nil
}
