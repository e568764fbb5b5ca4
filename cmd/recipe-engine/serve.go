package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/recipe-engine/internal/httpapi"
	"github.com/rendis/recipe-engine/internal/logging"
	"github.com/rendis/recipe-engine/internal/scheduler"
)

const assetsPrefix = "/assets"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, worker pool and scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (RECIPE_JWT_SECRET) is required to serve the API")
	}

	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewWithLeveler(os.Stderr, level, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.shutdown()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled || cfg.ReaperCron != "" {
		opts := scheduler.Options{ReaperCron: cfg.ReaperCron, Reaper: a.engine}
		var submitter scheduler.Submitter
		if cfg.Scheduler.Enabled {
			submitter = a.engine
		}
		sched = scheduler.NewScheduler(a.store, submitter, logger, opts)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	deps := httpapi.Deps{
		Engine:   a.engine,
		Hub:      a.hub,
		Metrics:  a.metrics.Handler(),
		Circuits: a.breakers.Snapshot,
		Auth:     httpapi.NewJWTAuth(cfg.Auth.JWTSecret, cfg.tokenTTL()),
		Logger:   logger,
	}
	if sched != nil && cfg.Scheduler.Enabled {
		deps.Schedules = sched
	}
	api := httpapi.NewServer(deps)

	mux := http.NewServeMux()
	if a.local != nil {
		mux.Handle(assetsPrefix+"/", http.StripPrefix(assetsPrefix, http.FileServer(http.Dir(a.local.Dir()))))
	}
	mux.Handle("/", api.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go watchReload(ctx, cfg, level, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Open event streams would otherwise hold the server until the timeout.
	a.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watchReload rereads the config on SIGHUP. The log level applies at once;
// other changes are logged as needing a restart.
func watchReload(ctx context.Context, current Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next, err := loadConfig(configPath)
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			d := diffConfigs(current, next)
			if d.LogLevelChanged {
				level.Set(logging.ParseLevel(next.LogLevel))
				logger.Info("log level changed", "level", next.LogLevel)
			}
			if len(d.RestartNeeded) > 0 {
				logger.Warn("config changes need a restart", "fields", d.RestartNeeded)
			}
			current = next
		}
	}
}
