package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rendis/recipe-engine/internal/objectstore"
	"github.com/rendis/recipe-engine/internal/validation"
)

// Config holds all recipe engine configuration.
// Priority: env vars > settings.yaml > defaults.
type Config struct {
	ListenAddr        string `yaml:"listen_addr" validate:"required"`
	BaseURL           string `yaml:"base_url"`
	LogLevel          string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat         string `yaml:"log_format" validate:"oneof=json text"`
	RunTimeoutMinutes int    `yaml:"run_timeout_minutes" validate:"gte=1"`
	// ReaperCron schedules reaper sweeps; empty leaves only the sweeps that
	// run before status and history reads.
	ReaperCron string `yaml:"reaper_cron"`

	Database  DatabaseConfig    `yaml:"database"`
	Pool      PoolConfig        `yaml:"pool"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Auth      AuthConfig        `yaml:"auth"`
	Providers ProvidersConfig   `yaml:"providers"`
	Assets    AssetsConfig      `yaml:"assets"`
	Limits    validation.Limits `yaml:"limits"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=libsql postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

type PoolConfig struct {
	Workers    int `yaml:"workers" validate:"gte=1"`
	QueueDepth int `yaml:"queue_depth" validate:"gte=0"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours" validate:"gte=0"`
}

type ProvidersConfig struct {
	Text          string `yaml:"text" validate:"oneof=gemini openai simulated"`
	TextModel     string `yaml:"text_model"`
	Media         string `yaml:"media" validate:"oneof=http simulated"`
	MediaBaseURL  string `yaml:"media_base_url" validate:"required_if=Media http,omitempty,url"`
	GoogleAPIKey  string `yaml:"google_api_key" validate:"required_if=Text gemini"`
	OpenAIAPIKey  string `yaml:"openai_api_key" validate:"required_if=Text openai"`
	OpenAIBaseURL string `yaml:"openai_base_url" validate:"omitempty,url"`
	MediaAPIKey   string `yaml:"media_api_key"`
}

type AssetsConfig struct {
	Driver string                  `yaml:"driver" validate:"oneof=local minio"`
	Dir    string                  `yaml:"dir" validate:"required_if=Driver local"`
	Minio  objectstore.MinioConfig `yaml:"minio"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

func defaultConfig() Config {
	home := engineHome()
	return Config{
		ListenAddr:        ":4200",
		LogLevel:          "info",
		LogFormat:         "json",
		RunTimeoutMinutes: 30,
		Database: DatabaseConfig{
			Driver: "libsql",
			DSN:    "file:" + filepath.Join(home, "recipe-engine.db"),
		},
		Pool: PoolConfig{Workers: 4, QueueDepth: 64},
		Auth: AuthConfig{TokenTTLHours: 24},
		Providers: ProvidersConfig{
			Text:  "simulated",
			Media: "simulated",
		},
		Assets: AssetsConfig{
			Driver: "local",
			Dir:    filepath.Join(home, "assets"),
		},
		Limits: validation.DefaultLimits,
	}
}

// engineHome is $RECIPE_ENGINE_HOME, or ~/.recipe-engine.
func engineHome() string {
	if dir := os.Getenv("RECIPE_ENGINE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recipe-engine"
	}
	return filepath.Join(home, ".recipe-engine")
}

func settingsPath() string {
	return filepath.Join(engineHome(), "settings.yaml")
}

// loadConfig layers defaults, the settings file and the environment. An
// explicit path must exist; the default settings file is optional.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = settingsPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := configValidator.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envBinding maps one RECIPE_* variable onto a config field.
type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

var envBindings = []envBinding{
	{"RECIPE_LISTEN_ADDR", str(func(c *Config) *string { return &c.ListenAddr })},
	{"RECIPE_BASE_URL", str(func(c *Config) *string { return &c.BaseURL })},
	{"RECIPE_LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"RECIPE_LOG_FORMAT", str(func(c *Config) *string { return &c.LogFormat })},
	{"RECIPE_RUN_TIMEOUT_MINUTES", integer(func(c *Config) *int { return &c.RunTimeoutMinutes })},
	{"RECIPE_REAPER_CRON", str(func(c *Config) *string { return &c.ReaperCron })},
	{"RECIPE_DB_DRIVER", str(func(c *Config) *string { return &c.Database.Driver })},
	{"RECIPE_DB_DSN", str(func(c *Config) *string { return &c.Database.DSN })},
	{"RECIPE_POOL_WORKERS", integer(func(c *Config) *int { return &c.Pool.Workers })},
	{"RECIPE_POOL_QUEUE_DEPTH", integer(func(c *Config) *int { return &c.Pool.QueueDepth })},
	{"RECIPE_SCHEDULER_ENABLED", boolean(func(c *Config) *bool { return &c.Scheduler.Enabled })},
	{"RECIPE_JWT_SECRET", str(func(c *Config) *string { return &c.Auth.JWTSecret })},
	{"RECIPE_TOKEN_TTL_HOURS", integer(func(c *Config) *int { return &c.Auth.TokenTTLHours })},
	{"RECIPE_TEXT_PROVIDER", str(func(c *Config) *string { return &c.Providers.Text })},
	{"RECIPE_TEXT_MODEL", str(func(c *Config) *string { return &c.Providers.TextModel })},
	{"RECIPE_MEDIA_PROVIDER", str(func(c *Config) *string { return &c.Providers.Media })},
	{"RECIPE_MEDIA_BASE_URL", str(func(c *Config) *string { return &c.Providers.MediaBaseURL })},
	{"RECIPE_GOOGLE_API_KEY", str(func(c *Config) *string { return &c.Providers.GoogleAPIKey })},
	{"RECIPE_OPENAI_API_KEY", str(func(c *Config) *string { return &c.Providers.OpenAIAPIKey })},
	{"RECIPE_OPENAI_BASE_URL", str(func(c *Config) *string { return &c.Providers.OpenAIBaseURL })},
	{"RECIPE_MEDIA_API_KEY", str(func(c *Config) *string { return &c.Providers.MediaAPIKey })},
	{"RECIPE_ASSETS_DRIVER", str(func(c *Config) *string { return &c.Assets.Driver })},
	{"RECIPE_ASSETS_DIR", str(func(c *Config) *string { return &c.Assets.Dir })},
	{"RECIPE_MINIO_ENDPOINT", str(func(c *Config) *string { return &c.Assets.Minio.Endpoint })},
	{"RECIPE_MINIO_ACCESS_KEY", str(func(c *Config) *string { return &c.Assets.Minio.AccessKey })},
	{"RECIPE_MINIO_SECRET_KEY", str(func(c *Config) *string { return &c.Assets.Minio.SecretKey })},
	{"RECIPE_MINIO_BUCKET", str(func(c *Config) *string { return &c.Assets.Minio.Bucket })},
	{"RECIPE_MINIO_REGION", str(func(c *Config) *string { return &c.Assets.Minio.Region })},
	{"RECIPE_MINIO_USE_SSL", boolean(func(c *Config) *bool { return &c.Assets.Minio.UseSSL })},
	{"RECIPE_MAX_TEXT", integer(func(c *Config) *int { return &c.Limits.MaxText })},
	{"RECIPE_MAX_TEXTAREA", integer(func(c *Config) *int { return &c.Limits.MaxTextarea })},
}

func applyEnv(cfg *Config) error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return nil
}

func (c Config) runTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

func (c Config) tokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.Database != new.Database {
		d.RestartNeeded = append(d.RestartNeeded, "database")
	}
	if old.Pool != new.Pool {
		d.RestartNeeded = append(d.RestartNeeded, "pool")
	}
	if old.Providers != new.Providers {
		d.RestartNeeded = append(d.RestartNeeded, "providers")
	}
	if old.Assets != new.Assets {
		d.RestartNeeded = append(d.RestartNeeded, "assets")
	}
	if old.ReaperCron != new.ReaperCron || old.Scheduler != new.Scheduler {
		d.RestartNeeded = append(d.RestartNeeded, "scheduler")
	}
	return d
}
