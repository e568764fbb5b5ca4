package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/recipe-engine/internal/documents"
	"github.com/rendis/recipe-engine/internal/engine"
	"github.com/rendis/recipe-engine/internal/expressions"
	"github.com/rendis/recipe-engine/internal/metrics"
	"github.com/rendis/recipe-engine/internal/objectstore"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/internal/recipes"
	"github.com/rendis/recipe-engine/internal/store"
	"github.com/rendis/recipe-engine/internal/streaming"
	"github.com/rendis/recipe-engine/internal/validation"
)

// app is the wired engine shared by the serve and mcp commands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    *store.SQLStore
	registry *recipes.Registry
	hub      *streaming.MemoryHub
	metrics  *metrics.Collectors
	engine   engine.Engine
	breakers *providers.Breakers
	// local is set when assets are kept on disk and served by the API.
	local   *objectstore.LocalStore
	closers []func() error
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context, cfg Config) (*store.SQLStore, error) {
	if path, ok := strings.CutPrefix(cfg.Database.DSN, "file:"); ok && cfg.Database.Driver == "libsql" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}

// newApp wires the store, providers, recipes and engine.
func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	a.metrics = metrics.New()
	suite, err := a.buildProviders(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	assets, err := a.buildAssets(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	a.registry = recipes.NewRegistry(logger, recipes.Builtins(recipes.Deps{
		Providers: suite,
		Assets:    assets,
		Fetcher:   documents.NewFetcher(),
		Logger:    logger,
	})...)

	cel, err := expressions.NewCELEngine()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init CEL: %w", err)
	}
	validator := validation.NewInputValidator(cel, cfg.Limits)
	if err := validator.CheckRules(a.registry.List(true)); err != nil {
		a.close()
		return nil, fmt.Errorf("recipe rules: %w", err)
	}

	a.hub = streaming.NewMemoryHub()

	eng, err := engine.New(engine.Deps{
		Store:     st,
		Registry:  a.registry,
		Validator: validator,
		Hub:       a.hub,
		Recorder:  a.metrics,
		Logger:    logger,
	}, engine.Config{
		Workers:    cfg.Pool.Workers,
		QueueDepth: cfg.Pool.QueueDepth,
		RunTimeout: cfg.runTimeout(),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init engine: %w", err)
	}
	a.engine = eng
	if _, err := eng.SyncCatalog(ctx); err != nil {
		eng.Shutdown()
		a.close()
		return nil, fmt.Errorf("sync recipe catalog: %w", err)
	}
	a.metrics.WatchPool(func() (int64, int64) {
		m := eng.Pool()
		return m.Active, m.Queued
	})
	a.metrics.WatchHub(a.hub)

	logger.Info("engine ready",
		"recipes", a.registry.Count(false),
		"text_provider", cfg.Providers.Text,
		"media_provider", cfg.Providers.Media,
		"assets", cfg.Assets.Driver,
		"database", cfg.Database.Driver,
	)
	return a, nil
}

func (a *app) buildProviders(ctx context.Context) (*providers.Suite, error) {
	pc := a.cfg.Providers
	breakers := providers.NewBreakers(providers.DefaultBreakerConfig())
	a.breakers = breakers
	breakers.OnChange(func(provider string, from, to providers.BreakerState) {
		a.metrics.ProviderCircuit(provider, to == providers.BreakerOpen)
		if to == providers.BreakerOpen {
			a.logger.Warn("provider circuit opened", "provider", provider, "from", from.String())
			return
		}
		a.logger.Info("provider circuit changed", "provider", provider, "from", from.String(), "to", to.String())
	})
	guard := providers.NewGuard(breakers, providers.DefaultRetryPolicy())
	sim := providers.NewSimulated()

	var text providers.TextGenerator
	switch pc.Text {
	case "gemini":
		g, err := providers.NewGeminiClient(ctx, pc.GoogleAPIKey, pc.TextModel, guard)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		text = g
	case "openai":
		o, err := providers.NewOpenAIClient(pc.OpenAIAPIKey, pc.TextModel, pc.OpenAIBaseURL, guard)
		if err != nil {
			return nil, err
		}
		text = o
	default:
		text = sim
	}

	var media providers.MediaGenerator = sim
	if pc.Media == "http" {
		media = providers.NewTaskClient(providers.TaskConfig{
			BaseURL: pc.MediaBaseURL,
			APIKey:  pc.MediaAPIKey,
		}, guard)
	}
	return providers.NewSuite(text, media), nil
}

func (a *app) buildAssets(ctx context.Context) (objectstore.Store, error) {
	switch a.cfg.Assets.Driver {
	case "minio":
		m, err := objectstore.NewMinioStore(ctx, a.cfg.Assets.Minio)
		if err != nil {
			return nil, fmt.Errorf("init minio assets: %w", err)
		}
		return m, nil
	default:
		l, err := objectstore.NewLocalStore(a.cfg.Assets.Dir, a.cfg.BaseURL+assetsPrefix)
		if err != nil {
			return nil, err
		}
		a.local = l
		return l, nil
	}
}

// shutdown drains the engine and releases resources.
func (a *app) shutdown() {
	if a.engine != nil {
		a.engine.Shutdown()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	a.close()
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close failed", "error", err)
	}
}
