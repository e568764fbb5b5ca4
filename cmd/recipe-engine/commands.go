package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/internal/httpapi"
)

var reapMinutes int

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail runs stuck in running for too long",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup(os.Stderr, "text")
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.shutdown()

		reaped, err := a.engine.Reap(cmd.Context(), time.Duration(reapMinutes)*time.Minute)
		if err != nil {
			return err
		}
		for _, run := range reaped {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", run.ID, run.RecipeSlug, run.UserID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reaped %d run(s)\n", len(reaped))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup(os.Stderr, "text")
		if err != nil {
			return err
		}
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		version, err := st.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		logger.Info("database migrated", "driver", cfg.Database.Driver, "schema_version", version)
		return nil
	},
}

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Inspect the recipe library",
}

var listAll bool

var recipesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered recipes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup(os.Stderr, "text")
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.shutdown()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SLUG\tCATEGORY\tACTIVE\tTWO-PHASE\tSTEPS\tCOST")
		for _, def := range a.registry.List(listAll) {
			m := def.Meta()
			fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%d\t%s\n",
				m.Slug, m.Category, m.Active, m.TwoPhase, len(def.Steps()), m.EstimatedCost)
		}
		return tw.Flush()
	},
}

var (
	tokenUser  string
	tokenAdmin bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret (RECIPE_JWT_SECRET) is not set")
		}
		token, err := httpapi.NewJWTAuth(cfg.Auth.JWTSecret, cfg.tokenTTL()).GenerateToken(tokenUser, tokenAdmin)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/recipe-engine/
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	reapCmd.Flags().IntVar(&reapMinutes, "minutes", int(engine.DefaultRunTimeout/time.Minute), "fail runs running for longer than this many minutes")
	recipesListCmd.Flags().BoolVar(&listAll, "all", false, "include inactive recipes")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (token subject)")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "grant admin access")
	_ = tokenCmd.MarkFlagRequired("user")

	recipesCmd.AddCommand(recipesListCmd)
	rootCmd.AddCommand(reapCmd, migrateCmd, recipesCmd, tokenCmd, versionCmd)
}
